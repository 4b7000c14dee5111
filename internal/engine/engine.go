// Package engine implements the reconciliation cycle: diffing the
// current task snapshot against persisted sync state, planning a change
// set under the active policy, executing it against the calendar
// gateway, and persisting the outcome atomically.
package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// Config wires an Engine. Store, Gateway, Source and Policy are
// required; the rest default sensibly.
type Config struct {
	Store   *state.Store
	Gateway gateway.Calendar
	Source  task.Source
	Policy  policy.SyncPolicy
	Logger  *slog.Logger

	// Clock and Sleep are injection points for tests.
	Clock func() time.Time
	Sleep func(time.Duration)
}

// Engine runs sync cycles. At most one cycle is in flight at a time;
// concurrent triggers fail fast with ErrCycleInFlight and are expected
// to be coalesced by the caller.
type Engine struct {
	store   *state.Store
	gw      gateway.Calendar
	source  task.Source
	policy  policy.SyncPolicy
	logger  *slog.Logger
	clock   func() time.Time
	sleep   func(time.Duration)
	running atomic.Bool
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		store:  cfg.Store,
		gw:     cfg.Gateway,
		source: cfg.Source,
		policy: cfg.Policy,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		sleep:  cfg.Sleep,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

// tryAcquire takes the single-flight slot, reporting false when a
// cycle is already running.
func (e *Engine) tryAcquire() bool {
	return e.running.CompareAndSwap(false, true)
}

func (e *Engine) release() {
	e.running.Store(false)
}

func (e *Engine) executor() *Executor {
	return &Executor{Gateway: e.gw, Logger: e.logger, Sleep: e.sleep}
}
