// Package notify sends Discord/Telegram webhook notifications for run
// milestones.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tos-network/goldrush/internal/util"
)

// Config holds webhook configuration.
type Config struct {
	Enabled      bool
	DiscordURL   string
	TelegramBot  string
	TelegramChat string
	RunName      string
}

// Retry configuration for outbound webhook delivery.
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

const telegramAPIBase = "https://api.telegram.org"

// Notifier sends run-milestone notifications.
type Notifier struct {
	cfg             Config
	client          *http.Client
	telegramAPIBase string
}

// NewNotifier builds a Notifier from cfg.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		telegramAPIBase: telegramAPIBase,
	}
}

// telegramBaseURL overrides the Telegram Bot API base URL; used by tests to
// point at a local server instead of the real API.
func (n *Notifier) telegramBaseURL(base string) {
	n.telegramAPIBase = base
}

// NotifyRunStarted announces that a run has begun against the judge.
func (n *Notifier) NotifyRunStarted(judgeURL string, workers int) {
	if !n.cfg.Enabled {
		return
	}
	title := fmt.Sprintf("%s started", n.cfg.RunName)
	text := fmt.Sprintf("*%s*\n\nJudge: `%s`\nWorkers: `%d`", title, judgeURL, workers)
	n.dispatch(title, text, 0x3498db)
}

// NotifyLicensePoolExhausted announces that the license pool has been empty
// for an unusually long stretch, which usually means every worker is
// stalled waiting on the judge.
func (n *Notifier) NotifyLicensePoolExhausted(digsPending uint64) {
	if !n.cfg.Enabled {
		return
	}
	title := "license pool exhausted"
	text := fmt.Sprintf("*%s*\n\nDigs pending license: `%d`", title, digsPending)
	n.dispatch(title, text, 0xe67e22)
}

// NotifyRunEnded announces the final coin total once every shard is drained.
func (n *Notifier) NotifyRunEnded(totalCoins uint64, elapsed time.Duration) {
	if !n.cfg.Enabled {
		return
	}
	title := fmt.Sprintf("%s finished", n.cfg.RunName)
	text := fmt.Sprintf("*%s*\n\nCoins: `%d`\nElapsed: `%s`", title, totalCoins, elapsed.Round(time.Second))
	n.dispatch(title, text, 0x2ecc71)
}

func (n *Notifier) dispatch(title, text string, color int) {
	if n.cfg.DiscordURL != "" {
		go n.sendDiscordMessage(title, text, color)
	}
	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramMessage(text)
	}
}

// DiscordEmbed represents a Discord embed object.
type DiscordEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// DiscordMessage represents a Discord webhook message.
type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds,omitempty"`
}

func (n *Notifier) sendDiscordMessage(title, text string, color int) {
	msg := DiscordMessage{Embeds: []DiscordEmbed{{
		Title:       title,
		Description: text,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}}}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("failed to marshal Discord message: %v", err)
		return
	}

	n.postWithRetry(n.cfg.DiscordURL, body)
}

// TelegramMessage represents a Telegram bot message.
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (n *Notifier) sendTelegramMessage(text string) {
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.telegramAPIBase, n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("failed to marshal Telegram message: %v", err)
		return
	}

	n.postWithRetry(url, body)
}

// postWithRetry POSTs body to url with exponential backoff, matching the
// retry budget a milestone webhook deserves: best-effort, not indefinite.
func (n *Notifier) postWithRetry(url string, body []byte) {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(uint(1)<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			time.Sleep(5 * time.Second)
			continue
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("failed to send webhook notification after %d retries: %v", MaxRetries, lastErr)
	}
}
