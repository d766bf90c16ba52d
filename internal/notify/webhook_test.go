package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewNotifier(t *testing.T) {
	cfg := Config{
		Enabled:      true,
		DiscordURL:   "https://discord.com/api/webhooks/test",
		TelegramBot:  "bot_token",
		TelegramChat: "chat_id",
		RunName:      "goldrush",
	}

	n := NewNotifier(cfg)

	if n.cfg != cfg {
		t.Error("Notifier.cfg not set correctly")
	}
	if n.client == nil {
		t.Error("Notifier.client should not be nil")
	}
	if n.client.Timeout != 10*time.Second {
		t.Errorf("client timeout = %v, want 10s", n.client.Timeout)
	}
}

func TestNotifyRunStartedDisabledSendsNothing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	n := NewNotifier(Config{Enabled: false, DiscordURL: srv.URL})
	n.NotifyRunStarted("http://judge:8000", 8)

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("disabled notifier should not send any webhook")
	}
}

func TestNotifyRunStartedPostsDiscordEmbed(t *testing.T) {
	done := make(chan DiscordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		done <- msg
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(Config{Enabled: true, DiscordURL: srv.URL, RunName: "goldrush"})
	n.NotifyRunStarted("http://judge:8000", 8)

	select {
	case msg := <-done:
		if len(msg.Embeds) != 1 {
			t.Fatalf("Embeds = %d, want 1", len(msg.Embeds))
		}
		if msg.Embeds[0].Title != "goldrush started" {
			t.Errorf("Title = %q, want %q", msg.Embeds[0].Title, "goldrush started")
		}
	case <-time.After(time.Second):
		t.Fatal("webhook was never sent")
	}
}

func TestNotifyLicensePoolExhaustedPostsTelegram(t *testing.T) {
	done := make(chan TelegramMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var msg TelegramMessage
		json.NewDecoder(r.Body).Decode(&msg)
		done <- msg
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{Enabled: true, TelegramBot: "tok", TelegramChat: "chat"})
	n.telegramBaseURL(srv.URL)
	n.NotifyLicensePoolExhausted(42)

	select {
	case msg := <-done:
		if msg.ChatID != "chat" {
			t.Errorf("ChatID = %q, want chat", msg.ChatID)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook was never sent")
	}
}

func TestPostWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(Config{Enabled: true})
	n.postWithRetry(srv.URL, []byte(`{}`))

	if got := atomic.LoadInt32(&hits); got != MaxRetries {
		t.Errorf("hits = %d, want %d", got, MaxRetries)
	}
}

func TestNotifyRunEndedFormatsElapsed(t *testing.T) {
	done := make(chan DiscordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var msg DiscordMessage
		json.NewDecoder(r.Body).Decode(&msg)
		done <- msg
	}))
	defer srv.Close()

	n := NewNotifier(Config{Enabled: true, DiscordURL: srv.URL, RunName: "goldrush"})
	n.NotifyRunEnded(12345, 90*time.Second)

	select {
	case msg := <-done:
		if msg.Embeds[0].Title != "goldrush finished" {
			t.Errorf("Title = %q, want %q", msg.Embeds[0].Title, "goldrush finished")
		}
	case <-time.After(time.Second):
		t.Fatal("webhook was never sent")
	}
}
