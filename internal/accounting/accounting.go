// Package accounting implements the run's single economic actor: it owns
// every license and coin, cashes treasures as workers hand them in, and
// keeps the license pool topped up against the configured concurrency cap.
package accounting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/goldrush/internal/domain"
	"github.com/tos-network/goldrush/internal/newrelic"
	"github.com/tos-network/goldrush/internal/rpc"
	"github.com/tos-network/goldrush/internal/stats"
)

// tick is how often the actor runs update_state: cashing pending treasures
// and topping up the license pool. It runs on every tick whether or not
// messages are arriving; it does not wait for the mailbox to go idle.
const tick = 9 * time.Millisecond

// cashRetryBackoff and licenseRetryBackoff pace the unconditional retry
// loops in RetryCash/RetryLicense, both dispatched in their own goroutine
// so a slow or erroring judge never blocks the actor's select loop.
const cashRetryBackoff = 50 * time.Millisecond
const licenseRetryBackoff = 50 * time.Millisecond

// TreasureToClaim hands a batch of same-depth treasure tokens to the
// actor. Handling is "enqueue" only — cashing happens later, opportunistically,
// from update_state.
type TreasureToClaim struct {
	Depth     uint8
	Treasures []string
}

// LicenseExpired tells the actor a worker's license ran out. Handling is
// "decrement activeLicenses and record the DigsPending hint" only;
// replenishing happens later, from update_state.
type LicenseExpired struct {
	DigsPending uint64
}

// GetLicense asks the actor for any licenses it has ready. Reply is
// always sent exactly once, even if the result is empty.
type GetLicense struct {
	Reply chan []domain.License
}

// cashResult delivers the coins earned by one asynchronous /cash retry
// loop back to the actor, so dispatchCashOut never blocks the select loop
// waiting on the HTTP round trip.
type cashResult struct {
	coins []uint64
}

// licenseResult delivers a license obtained by the in-flight /licenses
// retry loop back to the actor, for the same reason.
type licenseResult struct {
	license domain.License
}

// exhaustionWarnAfter is how many consecutive idle ticks with zero active
// licenses must elapse before onPoolExhausted fires; at the tick interval
// that's roughly half a second of every worker stalled on a license.
const exhaustionWarnAfter = 50

// exhaustionWarnCooldown rate-limits repeat notifications so a long stall
// doesn't fire one webhook per tick.
const exhaustionWarnCooldown = 30 * time.Second

// Accounting is the actor: reachable only through its mailbox.
type Accounting struct {
	client *rpc.Client
	stats  *stats.Collector

	maxConcurrentLicenses uint8

	// onPoolExhausted is read by the actor goroutine and written by
	// OnPoolExhausted from whatever goroutine wires it up, so it's kept
	// behind an atomic.Value rather than a plain field.
	onPoolExhausted atomic.Value // func(uint64)

	// nrAgent is optional APM telemetry, set via SetTelemetry.
	nrAgent atomic.Value // *newrelic.Agent

	mailbox chan interface{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New starts the accounting actor goroutine.
func New(client *rpc.Client, collector *stats.Collector, maxConcurrentLicenses uint8) *Accounting {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Accounting{
		client:                client,
		stats:                 collector,
		maxConcurrentLicenses: maxConcurrentLicenses,
		mailbox:               make(chan interface{}, 1000),
		ctx:                   ctx,
		cancel:                cancel,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Stop halts the actor. Any licenses or coins still held are abandoned.
func (a *Accounting) Stop() {
	a.cancel()
	a.wg.Wait()
}

// OnPoolExhausted registers a callback fired when the license pool has sat
// empty for exhaustionWarnAfter consecutive ticks, rate-limited to one call
// per exhaustionWarnCooldown.
func (a *Accounting) OnPoolExhausted(fn func(digsPending uint64)) {
	a.onPoolExhausted.Store(fn)
}

// SetTelemetry wires an optional New Relic agent; every /cash and
// /licenses call is additionally reported to it alongside Stats.
func (a *Accounting) SetTelemetry(agent *newrelic.Agent) {
	a.nrAgent.Store(agent)
}

func (a *Accounting) telemetry() *newrelic.Agent {
	agent, _ := a.nrAgent.Load().(*newrelic.Agent)
	return agent
}

// ClaimTreasures enqueues a batch for cashing. It blocks only while the
// 1000-slot mailbox is full, and returns without effect once the actor has
// stopped.
func (a *Accounting) ClaimTreasures(depth uint8, treasures []string) {
	a.send(TreasureToClaim{Depth: depth, Treasures: treasures})
}

// NotifyLicenseExpired tells the actor a worker ran out of license.
func (a *Accounting) NotifyLicenseExpired(digsPending uint64) {
	a.send(LicenseExpired{DigsPending: digsPending})
}

// RequestLicense asks for any ready licenses and blocks for the reply.
func (a *Accounting) RequestLicense() []domain.License {
	reply := make(chan []domain.License, 1)
	a.send(GetLicense{Reply: reply})
	select {
	case licenses := <-reply:
		return licenses
	case <-a.ctx.Done():
		return nil
	}
}

func (a *Accounting) send(msg interface{}) {
	select {
	case a.mailbox <- msg:
	case <-a.ctx.Done():
	}
}

func (a *Accounting) run() {
	defer a.wg.Done()

	treasures := &domain.TreasureHeap{}
	var activeLicenses uint8
	var licenses []domain.License
	var coins []uint64
	// digsPending tracks the backlog reported by the last LicenseExpired;
	// it is passed to the onPoolExhausted callback and does not affect
	// license purchases.
	var digsPending uint64
	_ = digsPending

	var emptyTicks int
	var lastWarn time.Time
	checkExhaustion := func() {
		if activeLicenses > 0 || len(licenses) > 0 {
			emptyTicks = 0
			return
		}
		emptyTicks++
		if emptyTicks < exhaustionWarnAfter {
			return
		}
		emptyTicks = 0
		fn, _ := a.onPoolExhausted.Load().(func(uint64))
		if fn == nil || time.Since(lastWarn) < exhaustionWarnCooldown {
			return
		}
		lastWarn = time.Now()
		fn(digsPending)
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// licensePurchaseInFlight caps license purchases to one at a time: the
	// purchase itself is dispatched as a detached, unconditionally-retrying
	// goroutine (see dispatchLicensePurchase), so this is what keeps a
	// stampede of LicenseExpired messages from spawning one retry loop per
	// worker.
	var licensePurchaseInFlight bool

	cashOut := func() {
		a.dispatchCashOut(treasures)
	}
	prepLicenses := func() {
		if licensePurchaseInFlight || activeLicenses >= a.maxConcurrentLicenses {
			return
		}
		var spend []uint64
		if len(coins) > 0 {
			spend = []uint64{coins[len(coins)-1]}
			coins = coins[:len(coins)-1]
		}
		licensePurchaseInFlight = true
		a.dispatchLicensePurchase(spend)
	}

	// update_state runs only from the ticker branch: cashing and license
	// replenishment are opportunistic background work, never something a
	// worker's GetLicense/TreasureToClaim/LicenseExpired message waits
	// behind. Each message case below does only the bookkeeping the spec
	// names for it and returns immediately.
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.mailbox:
			switch m := msg.(type) {
			case TreasureToClaim:
				treasures.Push(domain.Treasures{Depth: m.Depth, Treasures: m.Treasures})
			case LicenseExpired:
				if activeLicenses > 0 {
					activeLicenses--
				}
				digsPending = m.DigsPending
			case GetLicense:
				m.Reply <- licenses
				licenses = nil
			case cashResult:
				coins = append(coins, m.coins...)
			case licenseResult:
				licensePurchaseInFlight = false
				activeLicenses++
				licenses = append(licenses, m.license)
			}
		case <-ticker.C:
			cashOut()
			prepLicenses()
			checkExhaustion()
		}
	}
}

// dispatchCashOut drains every queued treasure batch and fires one
// detached goroutine per token, each cashing it via RetryCash — the
// `plain_cash` equivalent, retrying unconditionally until it succeeds or
// a.ctx is cancelled. Dispatch never blocks: results are delivered back to
// run's select loop as cashResult messages, so a judge outage stalls only
// the affected tokens, never the actor's mailbox.
func (a *Accounting) dispatchCashOut(treasures *domain.TreasureHeap) {
	for _, batch := range treasures.Drain() {
		for _, token := range batch.Treasures {
			go func(depth uint8, token string) {
				start := time.Now()
				earned, err := a.client.RetryCash(a.ctx, token, cashRetryBackoff)
				if err != nil {
					// a.ctx was cancelled: the actor is shutting down.
					return
				}
				var total uint64
				for _, v := range earned {
					total += v
				}
				elapsed := time.Since(start)
				a.stats.RecordCash(depth, total, elapsed, 0)
				if agent := a.telemetry(); agent != nil {
					agent.RecordCashCall(total, elapsed, 0)
				}
				a.send(cashResult{coins: earned})
			}(batch.Depth, token)
		}
	}
}

// dispatchLicensePurchase fires a single detached goroutine that buys one
// license via RetryLicense — the `plain_license` equivalent, retrying
// unconditionally until it succeeds or a.ctx is cancelled — spending the
// given coin (if any). Dispatch never blocks the actor's select loop; the
// result is delivered back as a licenseResult message.
func (a *Accounting) dispatchLicensePurchase(spend []uint64) {
	go func(spend []uint64) {
		start := time.Now()
		lic, err := a.client.RetryLicense(a.ctx, spend, licenseRetryBackoff)
		if err != nil {
			// a.ctx was cancelled: the actor is shutting down.
			return
		}
		elapsed := time.Since(start)
		a.stats.RecordLicense(elapsed, 0)
		if agent := a.telemetry(); agent != nil {
			agent.RecordLicensePurchase(elapsed, 0)
		}
		a.send(licenseResult{license: lic})
	}(spend)
}
