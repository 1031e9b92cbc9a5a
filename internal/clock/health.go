package clock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// StepThreshold is the drift magnitude that marks a clock step.
	StepThreshold = time.Millisecond
	// StepCooldown is how long step_detected stays true after a step.
	StepCooldown = 5 * time.Second
	// SyncThreshold is the max |offset| considered "synced".
	SyncThreshold = time.Millisecond
	// DefaultSampleCadence is the health monitor's sampling interval.
	DefaultSampleCadence = 100 * time.Millisecond
	// DefaultStaleness is how old an external offset reading may be
	// before synced is force-cleared.
	DefaultStaleness = 60 * time.Second
)

// ExternalOffsetFunc returns the current wall-clock offset against a
// time-sync daemon or exchange server-time probe, e.g. the REST
// server-time call in internal/restclient. A non-nil error means the
// reading failed and is treated as non-fatal staleness (see Monitor.sample).
type ExternalOffsetFunc func(ctx context.Context) (offsetNs int64, err error)

// Health is an immutable snapshot of clock health at a point in time.
type Health struct {
	Synced        bool
	OffsetNs      int64
	StepDetected  bool
	NsSinceStep   int64
	lastExternal  MonoTs
	staleCooldown time.Duration
}

// OneWayValid reports whether one-way wire latency may be recorded from
// the wall clock right now: synced, no recent step, and past cooldown.
func (h Health) OneWayValid() bool {
	return h.Synced && !h.StepDetected && h.NsSinceStep > int64(StepCooldown)
}

// Monitor samples the monotonic/wall clock pair at a fixed cadence,
// detects steps, and folds in an external sync-offset reading. It is a
// process-wide singleton constructed once at startup and injected by
// reference, mirroring the corpus's ClockSync: atomic scalars on the hot
// read path, a single background goroutine owning all writes.
type Monitor struct {
	source Source

	offsetNs     atomic.Int64
	synced       atomic.Bool
	stepDetected atomic.Bool
	lastStepMono atomic.Int64
	lastExtRead  atomic.Int64 // mono ns of the last external offset read

	cadence   time.Duration
	staleness time.Duration
	external  ExternalOffsetFunc

	prevMono MonoTs
	prevWall WallTs
	haveSample bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor constructs a Monitor. external may be nil, in which case
// Snapshot().Synced never becomes true until SetExternalOffset is called directly
// (used by tests and by call sites that want to feed readings manually).
func NewMonitor(source Source, external ExternalOffsetFunc) *Monitor {
	if source == nil {
		source = NewSystemSource()
	}
	m := &Monitor{
		source:    source,
		cadence:   DefaultSampleCadence,
		staleness: DefaultStaleness,
		external:  external,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	m.lastStepMono.Store(int64(source.MonoNow()))
	return m
}

// Start begins the sampling loop in a background goroutine. The loop
// exits promptly when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop signals the sampling loop to exit and waits for it to finish.
func (m *Monitor) Stop() {
	select {
	case <-m.stopCh:
		return // already stopped
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	mono := m.source.MonoNow()
	wall := m.source.WallNow()

	if m.haveSample {
		drift := (int64(wall) - int64(m.prevWall)) - int64(mono-m.prevMono)
		if abs64(drift) > int64(StepThreshold) {
			m.stepDetected.Store(true)
			m.lastStepMono.Store(int64(mono))
			log.Info().Int64("drift_ns", drift).Msg("clock step detected")
		}
	}
	m.prevMono, m.prevWall, m.haveSample = mono, wall, true

	if int64(mono)-m.lastStepMono.Load() >= int64(StepCooldown) {
		m.stepDetected.Store(false)
	}

	if m.external != nil {
		offset, err := m.external(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("external clock sync read failed, keeping last known offset")
		} else {
			m.SetExternalOffset(offset)
		}
	}

	if int64(mono)-m.lastExtRead.Load() > int64(m.staleness) {
		m.synced.Store(false)
	}
}

// SetExternalOffset records a fresh external offset reading and refreshes
// its staleness clock. synced is derived from |offset| < SyncThreshold.
func (m *Monitor) SetExternalOffset(offsetNs int64) {
	m.offsetNs.Store(offsetNs)
	m.lastExtRead.Store(int64(m.source.MonoNow()))
	m.synced.Store(abs64(offsetNs) < int64(SyncThreshold))
}

// Snapshot returns the current health reading. Safe for concurrent use;
// touches only atomics, no locks, so it is cheap enough to call per
// message on the Harness's hot path.
func (m *Monitor) Snapshot() Health {
	mono := m.source.MonoNow()
	stepDetected := m.stepDetected.Load()
	lastStep := m.lastStepMono.Load()
	return Health{
		Synced:       m.synced.Load(),
		OffsetNs:     m.offsetNs.Load(),
		StepDetected: stepDetected,
		NsSinceStep:  int64(mono) - lastStep,
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
