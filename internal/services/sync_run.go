package services

import (
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// Adaptive inter-call delay bounds. The delay shrinks a step after each
// success and doubles on errors, staying inside [min, max].
const (
	defaultCallDelay = 500 * time.Millisecond
	minCallDelay     = 200 * time.Millisecond
	maxCallDelay     = 5 * time.Second
	callDelayStep    = 50 * time.Millisecond
)

// defaultTimeBudget keeps a round under the hosting execution-time limit.
const defaultTimeBudget = 140 * time.Second

// SyncRun is the mutable state of one round: abort flag, adaptive delay and
// wall-clock budget. It is created per round and passed through the pipeline
// so concurrent rounds for different schools never share state.
type SyncRun struct {
	SchoolID   int
	Round      int
	Ref        string
	StartedAt  time.Time
	TimeBudget time.Duration

	Delay    time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration

	abort atomic.Bool
}

func NewSyncRun(schoolID, round int, ref string) *SyncRun {
	return &SyncRun{
		SchoolID:   schoolID,
		Round:      round,
		Ref:        ref,
		StartedAt:  time.Now(),
		TimeBudget: envSeconds("SYNC_TIME_BUDGET_SEC", defaultTimeBudget),
		Delay:      envMillis("SYNC_CALL_DELAY_MS", defaultCallDelay),
		MinDelay:   envMillis("SYNC_MIN_CALL_DELAY_MS", minCallDelay),
		MaxDelay:   envMillis("SYNC_MAX_CALL_DELAY_MS", maxCallDelay),
	}
}

// Abort requests a cooperative stop at the next record boundary.
func (r *SyncRun) Abort() {
	r.abort.Store(true)
}

// Aborted reports whether a caller requested a stop.
func (r *SyncRun) Aborted() bool {
	return r.abort.Load()
}

// OverBudget reports whether the round has used up its wall-clock budget.
func (r *SyncRun) OverBudget() bool {
	return time.Since(r.StartedAt) > r.TimeBudget
}

// SpeedUp shortens the inter-call delay after a success, down to the floor.
func (r *SyncRun) SpeedUp() {
	r.Delay -= callDelayStep
	if r.Delay < r.MinDelay {
		r.Delay = r.MinDelay
	}
}

// SlowDown doubles the inter-call delay after an error or rate limit, up to
// the ceiling.
func (r *SyncRun) SlowDown() {
	r.Delay *= 2
	if r.Delay > r.MaxDelay {
		r.Delay = r.MaxDelay
	}
}

func envMillis(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envSeconds(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}
