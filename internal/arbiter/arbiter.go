// Package arbiter implements the Signal Arbiter (spec §4.C): a
// per-instrument 35s dedup layer (CONFIRMED beats UNCONFIRMED) feeding
// a 60s cross-instrument batch that picks one winner by rank score,
// with independent category lanes bypassing Layer 1 entirely.
package arbiter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/clock"
	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/abdoelhodaky/tradefabric/internal/obsmetrics"
	"go.uber.org/zap"
)

// globalLane is the key for the default (non-category) Layer-2 batch.
const globalLane = ""

// BatchEntry is the transient record held inside a Layer-2 batch
// (spec §3).
type BatchEntry struct {
	ScripCode  string
	Source     domain.SignalSource
	Signal     domain.Signal
	RankScore  float64
	ReceivedAt time.Time
}

// WinnerFunc receives an arbitration winner to forward downstream
// (Risk Gate -> Position Manager).
type WinnerFunc func(sig domain.Signal)

// SupersededFunc receives a terminal FAILED notification for a signal
// that lost arbitration.
type SupersededFunc func(ev domain.SupersededEvent)

// Config holds the two window durations (spec §6).
type Config struct {
	Layer1Buffer time.Duration
	Layer2Batch  time.Duration
}

// Arbiter is the top-level Signal Arbiter.
type Arbiter struct {
	clock  *clock.Service
	cfg    Config
	logger *zap.Logger

	onWinner     WinnerFunc
	onSuperseded SupersededFunc
	metrics      *obsmetrics.Metrics

	mu     sync.Mutex
	groups map[string]*signalGroup // scrip_code -> Layer-1 group (CONFIRMED/UNCONFIRMED pair only)
	lanes  map[string]*batchLane   // lane key ("" = global, else category) -> Layer-2 batch
}

// laneLabel renders a lane key for metrics, since the global lane's
// key is "" and Prometheus label values read better named.
func laneLabel(laneKey string) string {
	if laneKey == globalLane {
		return "global"
	}
	return laneKey
}

// New constructs an Arbiter. onWinner and onSuperseded must be
// non-blocking (they run on the timer pool); callers that need to do
// I/O should hand off to their own queue. metrics may be nil.
func New(clk *clock.Service, cfg Config, logger *zap.Logger, onWinner WinnerFunc, onSuperseded SupersededFunc, metrics *obsmetrics.Metrics) *Arbiter {
	return &Arbiter{
		clock:        clk,
		cfg:          cfg,
		logger:       logger,
		onWinner:     onWinner,
		onSuperseded: onSuperseded,
		metrics:      metrics,
		groups:       make(map[string]*signalGroup),
		lanes:        make(map[string]*batchLane),
	}
}

// Submit routes a signal to Layer 1 (CONFIRMED/UNCONFIRMED) or
// directly to its category's private Layer-2 lane (spec §4.C
// "Independent category lanes").
func (a *Arbiter) Submit(sig domain.Signal) {
	if sig.Source.IsPaired() {
		a.submitLayer1(sig)
		return
	}
	lane := categoryOf(sig.Source)
	a.submitLane(lane, sig)
}

func categoryOf(source domain.SignalSource) string {
	s := string(source)
	if strings.HasPrefix(s, "CATEGORY:") {
		return strings.TrimPrefix(s, "CATEGORY:")
	}
	return s
}

// --- Layer 1: per-instrument dedup -----------------------------------

type signalGroup struct {
	mu     sync.Mutex
	slots  map[domain.SignalSource]domain.Signal
	open   bool
	handle clock.Handle
}

func (a *Arbiter) groupFor(scripCode string) *signalGroup {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[scripCode]
	if !ok {
		g = &signalGroup{slots: make(map[domain.SignalSource]domain.Signal)}
		a.groups[scripCode] = g
	}
	return g
}

func (a *Arbiter) submitLayer1(sig domain.Signal) {
	g := a.groupFor(sig.ScripCode)
	g.mu.Lock()
	g.slots[sig.Source] = sig
	if !g.open {
		g.open = true
		scrip := sig.ScripCode
		g.handle = a.clock.ScheduleOnce(a.cfg.Layer1Buffer, func() {
			a.fireGroup(scrip)
		})
	}
	g.mu.Unlock()
}

// fireGroup resolves a Layer-1 group: CONFIRMED beats UNCONFIRMED; the
// sole present signal wins if only one slot is filled. A duplicate
// flush (e.g. during shutdown, after the timer already fired) finds
// an empty slot map and is a no-op.
func (a *Arbiter) fireGroup(scripCode string) {
	g := a.groupFor(scripCode)
	g.mu.Lock()
	slots := g.slots
	g.slots = make(map[domain.SignalSource]domain.Signal)
	g.open = false
	g.mu.Unlock()

	if len(slots) == 0 {
		return
	}

	confirmed, hasConfirmed := slots[domain.SourceConfirmed]
	unconfirmed, hasUnconfirmed := slots[domain.SourceUnconfirmed]

	var winner domain.Signal
	var hasLoser bool

	switch {
	case hasConfirmed:
		winner = confirmed
		hasLoser = hasUnconfirmed
	case hasUnconfirmed:
		winner = unconfirmed
	default:
		// Only possible if a non-paired source slipped in; treat the
		// lone entry as the winner.
		for _, sig := range slots {
			winner = sig
			break
		}
	}

	if hasLoser {
		if a.metrics != nil {
			a.metrics.ArbiterSupersedes.WithLabelValues(laneLabel(globalLane)).Inc()
		}
		if a.onSuperseded != nil {
			a.onSuperseded(domain.SupersededEvent{
				ScripCode:  scripCode,
				StrategyID: unconfirmed.StrategyID,
				Reason:     fmt.Sprintf("SUPERSEDED_BY_%s", winner.Source),
				At:         a.clock.Now(),
			})
		}
	}

	a.submitLane(globalLane, winner)
}

// --- Layer 2: cross-instrument batch ----------------------------------

type batchLane struct {
	mu      sync.Mutex
	entries map[string]BatchEntry // scrip_code -> entry, later submissions overwrite
	open    bool
	handle  clock.Handle
}

func (a *Arbiter) laneFor(key string) *batchLane {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.lanes[key]
	if !ok {
		l = &batchLane{entries: make(map[string]BatchEntry)}
		a.lanes[key] = l
	}
	return l
}

func (a *Arbiter) submitLane(laneKey string, sig domain.Signal) {
	l := a.laneFor(laneKey)
	l.mu.Lock()
	l.entries[sig.ScripCode] = BatchEntry{
		ScripCode:  sig.ScripCode,
		Source:     sig.Source,
		Signal:     sig,
		RankScore:  RankScore(sig, laneKey),
		ReceivedAt: sig.ReceivedAt,
	}
	if !l.open {
		l.open = true
		l.handle = a.clock.ScheduleOnce(a.cfg.Layer2Batch, func() {
			a.fireLane(laneKey)
		})
	}
	l.mu.Unlock()
}

// fireLane resolves a Layer-2 batch: pass-through on size 1, else
// argmax(rank_score) with losers emitted as SUPERSEDED_BY_BEST_<winner>.
func (a *Arbiter) fireLane(laneKey string) {
	l := a.laneFor(laneKey)
	l.mu.Lock()
	entries := l.entries
	l.entries = make(map[string]BatchEntry)
	l.open = false
	l.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	var winner BatchEntry
	first := true
	for _, e := range entries {
		if first || e.RankScore > winner.RankScore {
			winner = e
			first = false
		}
	}

	if len(entries) > 1 {
		for _, e := range entries {
			if e.ScripCode == winner.ScripCode {
				continue
			}
			if a.metrics != nil {
				a.metrics.ArbiterSupersedes.WithLabelValues(laneLabel(laneKey)).Inc()
			}
			if a.onSuperseded != nil {
				a.onSuperseded(domain.SupersededEvent{
					ScripCode:  e.ScripCode,
					StrategyID: e.Signal.StrategyID,
					Reason:     fmt.Sprintf("SUPERSEDED_BY_BEST_%s", winner.ScripCode),
					At:         a.clock.Now(),
				})
			}
		}
	}

	if a.metrics != nil {
		a.metrics.ArbiterWinners.WithLabelValues(laneLabel(laneKey)).Inc()
	}
	if a.onWinner != nil {
		a.onWinner(winner.Signal)
	}
}

// Depth reports the number of outstanding Layer-1 groups and Layer-2
// lanes, for read-only diagnostics surfaces.
func (a *Arbiter) Depth() (groups int, lanes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups), len(a.lanes)
}

// Flush synchronously resolves every outstanding group and lane,
// invoking the timer callbacks inline (spec §4.C "A crash/shutdown
// flushes all outstanding groups and batches synchronously").
func (a *Arbiter) Flush() {
	a.mu.Lock()
	scrips := make([]string, 0, len(a.groups))
	for k := range a.groups {
		scrips = append(scrips, k)
	}
	a.mu.Unlock()

	// Resolve Layer-1 first: a group's winner feeds the global Layer-2
	// lane, possibly creating it, so lanes must be enumerated after.
	for _, scrip := range scrips {
		a.fireGroup(scrip)
	}

	a.mu.Lock()
	laneKeys := make([]string, 0, len(a.lanes))
	for k := range a.lanes {
		laneKeys = append(laneKeys, k)
	}
	a.mu.Unlock()

	for _, key := range laneKeys {
		a.fireLane(key)
	}
}
