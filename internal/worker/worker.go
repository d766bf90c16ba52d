// Package worker implements the per-shard exploration/dig pipeline: each
// Worker owns a vertical stripe of the grid and drives it to exhaustion,
// borrowing licenses from Accounting and forwarding found treasures to it.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tos-network/goldrush/internal/accounting"
	"github.com/tos-network/goldrush/internal/domain"
	"github.com/tos-network/goldrush/internal/newrelic"
	"github.com/tos-network/goldrush/internal/rpc"
	"github.com/tos-network/goldrush/internal/stats"
	"github.com/tos-network/goldrush/internal/util"
)

// Rules bundles the budget constants a Worker schedules against.
type Rules struct {
	MaxDepth    uint8
	AvgDigMs    uint64
	TimeLimitMs uint64
}

// Worker owns one shard's explore heap, dig heap, and borrowed licenses.
// Nothing here is shared with other Workers; all cross-component state
// moves through Accounting's mailbox.
type Worker struct {
	shard   domain.Area
	client  *rpc.Client
	acct    *accounting.Accounting
	stats   *stats.Collector
	rules   Rules
	started time.Time

	exploreHeap domain.ExploreHeap
	digHeap     domain.DigHeap
	licenses    []domain.License

	// retryQueue holds areas whose /explore call failed; they are
	// reattempted before any fresh heap work, so a transient network
	// error never silently drops a region of the shard.
	retryQueue []domain.Area

	// nrAgent is optional APM telemetry, set via SetTelemetry. Behind an
	// atomic.Value since it may be wired up from the supervisor goroutine
	// after Run has already started.
	nrAgent atomic.Value // *newrelic.Agent
}

// New builds a Worker for shard, ready to be driven by Run.
func New(shard domain.Area, client *rpc.Client, acct *accounting.Accounting, collector *stats.Collector, rules Rules) *Worker {
	return &Worker{
		shard:   shard,
		client:  client,
		acct:    acct,
		stats:   collector,
		rules:   rules,
		started: time.Now(),
	}
}

// SetTelemetry wires an optional New Relic agent; every /explore and /dig
// call is additionally reported to it alongside Stats.
func (w *Worker) SetTelemetry(agent *newrelic.Agent) {
	w.nrAgent.Store(agent)
}

func (w *Worker) telemetry() *newrelic.Agent {
	agent, _ := w.nrAgent.Load().(*newrelic.Agent)
	return agent
}

// Run seeds the shard's initial working set and then drives explore/dig
// steps until the shard is exhausted or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.seed(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.exploreStep(ctx)
		w.digStep(ctx)

		if w.exploreHeap.Len() == 0 && w.digHeap.Len() == 0 && len(w.retryQueue) == 0 {
			return
		}
	}
}

// seed builds the shard's coarse initial working set: a stripe split by
// SplitIn8 (Divide applied twice, up to 16 tiles), each explored and
// subdivided further when
// it doesn't fit the remaining wall-clock budget.
func (w *Worker) seed(ctx context.Context) {
	for _, area := range w.shard.SplitIn8() {
		w.seedArea(ctx, area)
	}
}

func (w *Worker) seedArea(ctx context.Context, area domain.Area) {
	elapsed := uint64(time.Since(w.started).Milliseconds())
	if !area.IsManageable(w.rules.MaxDepth, w.rules.AvgDigMs, w.rules.TimeLimitMs, elapsed) {
		if area.IsCell() {
			return
		}
		for _, sub := range area.Divide() {
			w.seedArea(ctx, sub)
		}
		return
	}

	e, err := w.query(ctx, area)
	if err != nil {
		// subdivide on error too, per the init heuristic: smaller
		// pieces are cheaper to retry than the whole region.
		if area.IsCell() {
			w.retryQueue = append(w.retryQueue, area)
			return
		}
		for _, sub := range area.Divide() {
			w.seedArea(ctx, sub)
		}
		return
	}
	if e.Amount > 0 {
		w.exploreHeap.Push(e)
	}
}

// query wraps client.Explore with latency/outcome reporting to Stats and,
// if wired, APM telemetry.
func (w *Worker) query(ctx context.Context, area domain.Area) (domain.Explore, error) {
	start := time.Now()
	e, err := w.client.Explore(ctx, area)
	status := 0
	if apiErr, ok := err.(*rpc.APIError); ok {
		status = apiErr.Status
	}
	elapsed := time.Since(start)
	w.stats.RecordExplore(area.Size(), elapsed, status)
	if agent := w.telemetry(); agent != nil {
		agent.RecordExploreCall(area.Size(), elapsed, status)
	}
	return e, err
}

// exploreStep drives exploration one step: retry a previously failed
// area first, otherwise pop the densest Explore and either seed a dig
// target (size-1 area) or subdivide and recurse the density search.
func (w *Worker) exploreStep(ctx context.Context) {
	if len(w.retryQueue) > 0 {
		area := w.retryQueue[0]
		w.retryQueue = w.retryQueue[1:]
		if e, err := w.query(ctx, area); err != nil {
			w.retryQueue = append(w.retryQueue, area)
		} else if e.Amount > 0 {
			w.exploreHeap.Push(e)
		}
		return
	}

	parent, ok := w.exploreHeap.Pop()
	if !ok {
		return
	}

	if parent.Area.IsCell() {
		w.digHeap.Push(domain.PendingDig{
			X:         parent.Area.PosX,
			Y:         parent.Area.PosY,
			Depth:     1,
			Remaining: parent.Amount,
		}, w.rules.MaxDepth)
		return
	}

	subs := parent.Area.Divide()
	last := len(subs) - 1
	var sum uint64

	for i := 0; i < last && sum < parent.Amount; i++ {
		e, err := w.query(ctx, subs[i])
		if err != nil {
			util.Warnf("explore failed for %+v: %v", subs[i], err)
			w.retryQueue = append(w.retryQueue, subs[i])
			continue
		}
		if e.Amount > 0 {
			w.exploreHeap.Push(e)
		}
		sum += e.Amount
	}

	// Conservation: whatever wasn't accounted for belongs to the one
	// subarea we never queried.
	var residual uint64
	if parent.Amount > sum {
		residual = parent.Amount - sum
	}
	w.exploreHeap.Push(domain.Explore{Area: subs[last], Amount: residual})
}

// digStep drives digging one step: with a license in hand, submit the
// highest-yield pending dig; without one, borrow from Accounting.
func (w *Worker) digStep(ctx context.Context) {
	pd, ok := w.digHeap.Pop()
	if !ok {
		return
	}

	if len(w.licenses) == 0 {
		w.digHeap.Push(pd, w.rules.MaxDepth)
		licenses := w.acct.RequestLicense()
		w.licenses = append(w.licenses, licenses...)
		return
	}

	lic := w.licenses[len(w.licenses)-1]
	w.licenses = w.licenses[:len(w.licenses)-1]

	start := time.Now()
	treasures, _, err := w.client.Dig(ctx, domain.Dig{
		LicenseID: lic.ID,
		PosX:      pd.X,
		PosY:      pd.Y,
		Depth:     pd.Depth,
	})
	status := 0
	if apiErr, ok := err.(*rpc.APIError); ok {
		status = apiErr.Status
	}
	found := len(treasures) > 0
	elapsed := time.Since(start)
	w.stats.RecordDig(pd.Depth, elapsed, found, status)
	if agent := w.telemetry(); agent != nil {
		agent.RecordDigCall(pd.Depth, found, elapsed, status)
	}

	if err != nil {
		util.Warnf("dig failed at (%d,%d)@%d: %v", pd.X, pd.Y, pd.Depth, err)
		w.digHeap.Push(pd, w.rules.MaxDepth)
		w.licenses = append(w.licenses, lic)
		return
	}

	foundCount := uint64(len(treasures))
	if foundCount > 0 {
		w.acct.ClaimTreasures(pd.Depth, treasures)
	}
	if next, ok := pd.NextLevel(foundCount, w.rules.MaxDepth); ok {
		w.digHeap.Push(next, w.rules.MaxDepth)
	}

	lic = lic.Use()
	if lic.IsValid() {
		w.licenses = append(w.licenses, lic)
		return
	}
	hint := w.digHeap.PendingSlotsHint(w.rules.MaxDepth)
	w.acct.NotifyLicenseExpired(hint)
}
