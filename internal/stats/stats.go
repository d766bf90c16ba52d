// Package stats implements the run's metrics actor: a single goroutine
// owning a Stats snapshot, fed by a mailbox of record events from every
// worker and the accounting actor, and able to render a human-readable
// report on demand.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

// histogramSampleSize bounds the reservoir sample rcrowley/go-metrics keeps
// per depth bucket; percentiles are computed over this sample, not the
// full population, trading exactness for bounded memory over a long run.
const histogramSampleSize = 1028

// mailbox capacity: generous enough that a burst of worker events never
// blocks the hot dig/explore loop waiting on the stats actor.
const mailboxCapacity = 1000

// EventKind identifies which counter a mailbox message updates.
type EventKind int

const (
	EventExplore EventKind = iota
	EventDig
	EventCash
	EventLicense
)

// Event is a single record sent to the Collector's mailbox. Duration is
// the call's wall-clock latency; StatusCode is 0 for a successful call.
type Event struct {
	Kind       EventKind
	Depth      uint8
	AreaSize   uint64
	Found      bool
	Amount     uint64
	Duration   time.Duration
	StatusCode int

	done chan struct{} // non-nil only for the synchronous ShowStats/Snapshot request
	snap *Snapshot
}

// Collector runs the stats actor: a single goroutine that owns all
// counters, reached only through its mailbox.
type Collector struct {
	mailbox chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCollector starts the stats actor goroutine.
func NewCollector() *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		mailbox: make(chan Event, mailboxCapacity),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Stop halts the actor goroutine. Events still queued in the mailbox are
// discarded, not recorded.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()
	s := newStats()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.mailbox:
			if ev.done != nil {
				snap := s.snapshot()
				ev.snap = &snap
				close(ev.done)
				continue
			}
			s.record(ev)
		}
	}
}

func (c *Collector) send(ev Event) {
	select {
	case c.mailbox <- ev:
	case <-c.ctx.Done():
	}
}

// RecordExplore records one /explore call.
func (c *Collector) RecordExplore(areaSize uint64, d time.Duration, statusCode int) {
	c.send(Event{Kind: EventExplore, AreaSize: areaSize, Duration: d, StatusCode: statusCode})
}

// RecordDig records one /dig call at depth, with found reporting whether
// it yielded any treasure.
func (c *Collector) RecordDig(depth uint8, d time.Duration, found bool, statusCode int) {
	c.send(Event{Kind: EventDig, Depth: depth, Duration: d, Found: found, StatusCode: statusCode})
}

// RecordCash records one /cash call for a treasure found at depth, paying
// amount coins.
func (c *Collector) RecordCash(depth uint8, amount uint64, d time.Duration, statusCode int) {
	c.send(Event{Kind: EventCash, Depth: depth, Amount: amount, Duration: d, StatusCode: statusCode})
}

// RecordLicense records one /licenses call.
func (c *Collector) RecordLicense(d time.Duration, statusCode int) {
	c.send(Event{Kind: EventLicense, Duration: d, StatusCode: statusCode})
}

// Snapshot is a read-only copy of the collector's state, safe to render or
// inspect outside the actor goroutine.
type Snapshot struct {
	Total             float64
	Dig               MetricSnapshot
	DigFound          float64
	DigFoundPerDepth  map[uint8][2]float64 // [0]=attempts [1]=found
	Cash              MetricSnapshot
	CashAtDepth       MetricSnapshot
	TotalCoins        uint64
	License           MetricSnapshot
	Explore           MetricSnapshot
}

// ShowStats synchronously renders the current snapshot as a report string,
// the way the teacher's debug API serves point-in-time state.
func (c *Collector) ShowStats() string {
	done := make(chan struct{})
	ev := Event{done: done}
	c.send(ev)
	select {
	case <-done:
	case <-c.ctx.Done():
		return "stats collector stopped"
	}
	return ev.snap.String()
}

// Snapshot returns the current metrics without formatting, for the debug
// API's JSON endpoint.
func (c *Collector) Snapshot() Snapshot {
	done := make(chan struct{})
	ev := Event{done: done}
	c.send(ev)
	<-done
	return *ev.snap
}

// histogramSnapshot mirrors the fields of metrics.HistogramSnapshot that the
// report needs, so Snapshot can cross goroutines without holding a live
// rcrowley/go-metrics handle.
type histogramSnapshot struct {
	min, max       int64
	mean, stddev   float64
	p50, p90, p99, p999 float64
}

// MetricSnapshot mirrors metric's exported state for Snapshot consumers.
type MetricSnapshot struct {
	Total      float64
	Err        float64
	ErrCodes   []string
	Histograms map[uint8]histogramSnapshot
}

type metric struct {
	total      float64
	err        float64
	errCodes   map[string]struct{}
	histograms map[uint8]metrics.Histogram
}

func newMetric() *metric {
	return &metric{errCodes: map[string]struct{}{}, histograms: map[uint8]metrics.Histogram{}}
}

func (m *metric) inc(key uint8, value time.Duration, statusCode int) {
	m.total++
	h := m.histograms[key]
	if h == nil {
		h = metrics.NewHistogram(metrics.NewUniformSample(histogramSampleSize))
		m.histograms[key] = h
	}
	h.Update(value.Nanoseconds())
	if statusCode != 0 {
		m.err++
		m.errCodes[fmt.Sprintf("%d", statusCode)] = struct{}{}
	}
}

func (m *metric) snapshot() MetricSnapshot {
	codes := make([]string, 0, len(m.errCodes))
	for code := range m.errCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	hists := make(map[uint8]histogramSnapshot, len(m.histograms))
	for k, h := range m.histograms {
		snap := h.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.9, 0.99, 0.999})
		hists[k] = histogramSnapshot{
			min:    snap.Min(),
			max:    snap.Max(),
			mean:   snap.Mean(),
			stddev: snap.StdDev(),
			p50:    ps[0],
			p90:    ps[1],
			p99:    ps[2],
			p999:   ps[3],
		}
	}

	return MetricSnapshot{Total: m.total, Err: m.err, ErrCodes: codes, Histograms: hists}
}

func (m MetricSnapshot) String() string {
	var b strings.Builder
	errRate := 0.0
	if m.Total > 0 {
		errRate = m.Err / m.Total
	}
	fmt.Fprintf(&b, "%.0f / %.0f, error rate %.3f\n", m.Total, m.Err, errRate)

	depths := make([]int, 0, len(m.Histograms))
	for depth := range m.Histograms {
		depths = append(depths, int(depth))
	}
	sort.Ints(depths)
	for _, depth := range depths {
		h := m.Histograms[uint8(depth)]
		fmt.Fprintf(&b, "(%d) - percentiles: p50: %.0fns p90: %.0fns p99: %.0fns p999: %.0fns\n",
			depth, h.p50, h.p90, h.p99, h.p999)
		fmt.Fprintf(&b, "(%d) - latency: min: %dns mean: %.0fns max: %dns stddev: %.0fns\n",
			depth, h.min, h.mean, h.max, h.stddev)
	}
	if len(m.ErrCodes) > 0 {
		fmt.Fprintf(&b, "codes %s\n", strings.Join(m.ErrCodes, "|"))
	}
	return b.String()
}

type stateless struct {
	total            float64
	dig              *metric
	digFound         float64
	digFoundPerDepth map[uint8][2]float64
	cash             *metric
	cashAtDepth      *metric
	totalCoins       uint64
	license          *metric
	explore          *metric
}

func newStats() *stateless {
	return &stateless{
		dig:              newMetric(),
		digFoundPerDepth: map[uint8][2]float64{},
		cash:             newMetric(),
		cashAtDepth:      newMetric(),
		license:          newMetric(),
		explore:          newMetric(),
	}
}

func (s *stateless) record(ev Event) {
	s.total++
	switch ev.Kind {
	case EventExplore:
		key := uint8(2)
		if ev.AreaSize == 1 {
			key = 1
		}
		s.explore.inc(key, ev.Duration, ev.StatusCode)
	case EventDig:
		s.dig.inc(ev.Depth, ev.Duration, ev.StatusCode)
		entry := s.digFoundPerDepth[ev.Depth]
		entry[0]++
		if ev.Found {
			s.digFound++
			entry[1]++
		}
		s.digFoundPerDepth[ev.Depth] = entry
	case EventCash:
		s.cash.inc(ev.Depth, ev.Duration, ev.StatusCode)
		s.cashAtDepth.inc(ev.Depth, time.Duration(ev.Amount), ev.StatusCode)
		if ev.StatusCode == 0 {
			s.totalCoins += ev.Amount
		}
	case EventLicense:
		s.license.inc(0, ev.Duration, ev.StatusCode)
	}
}

func (s *stateless) snapshot() Snapshot {
	return Snapshot{
		Total:            s.total,
		Dig:              s.dig.snapshot(),
		DigFound:         s.digFound,
		DigFoundPerDepth: copyDepthMap(s.digFoundPerDepth),
		Cash:             s.cash.snapshot(),
		CashAtDepth:      s.cashAtDepth.snapshot(),
		TotalCoins:       s.totalCoins,
		License:          s.license.snapshot(),
		Explore:          s.explore.snapshot(),
	}
}

func copyDepthMap(m map[uint8][2]float64) map[uint8][2]float64 {
	out := make(map[uint8][2]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total: %.0f\n", s.Total)
	fmt.Fprintf(&b, "explore: %s", s.Explore.String())

	foundRate := 0.0
	if s.Dig.Total > 0 {
		foundRate = s.DigFound / s.Dig.Total
	}
	fmt.Fprintf(&b, "digs: %sfound %.0f, found rate %.3f\n", s.Dig.String(), s.DigFound, foundRate)

	depths := make([]int, 0, len(s.DigFoundPerDepth))
	for depth := range s.DigFoundPerDepth {
		depths = append(depths, int(depth))
	}
	sort.Ints(depths)
	parts := make([]string, 0, len(depths))
	for _, depth := range depths {
		v := s.DigFoundPerDepth[uint8(depth)]
		rate := 0.0
		if v[0] > 0 {
			rate = v[1] / v[0]
		}
		parts = append(parts, fmt.Sprintf("%d:%.3f", depth, rate))
	}
	fmt.Fprintf(&b, "rate at depth %s\n", strings.Join(parts, ", "))

	fmt.Fprintf(&b, "cash: %s", s.Cash.String())
	fmt.Fprintf(&b, "cash at depth: %s", s.CashAtDepth.String())
	fmt.Fprintf(&b, "total coins: %d\n", s.TotalCoins)
	fmt.Fprintf(&b, "license: %s", s.License.String())
	return b.String()
}
