// Package tracker measures time on task for a learning resource. Time only
// accrues while the page is visible and the user has shown activity within
// the idle threshold. Progress is saved periodically and finalised when
// tracking stops.
package tracker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"academia-backend/internal/metrics"
	"academia-backend/internal/models"
)

var logger = loggo.GetLogger("academia.tracker")

type Config struct {
	AutoSaveInterval   time.Duration `yaml:"auto_save_interval"`
	MinSessionDuration time.Duration `yaml:"min_session_duration"`
	IdleThreshold      time.Duration `yaml:"idle_threshold"`
	// HiddenStopAfter ends the session when the page stays hidden this
	// long. Zero disables it.
	HiddenStopAfter time.Duration `yaml:"hidden_stop_after"`
	SessionType     string        `yaml:"session_type"`
}

func DefaultConfig() Config {
	return Config{
		AutoSaveInterval:   5 * time.Minute,
		MinSessionDuration: time.Minute,
		IdleThreshold:      2 * time.Minute,
		HiddenStopAfter:    30 * time.Minute,
		SessionType:        models.DefaultSessionType,
	}
}

// Record is what the recording procedure persists for a session.
type Record struct {
	UserID          uuid.UUID
	Resource        models.ResourceRef
	SessionType     string
	DurationMinutes int
	StartedAt       time.Time
	LastActiveAt    time.Time
	EndedAt         time.Time
}

// Recorder persists study sessions. RecordSession creates the record and
// returns its id; UpdateSession revises an existing one.
type Recorder interface {
	RecordSession(ctx context.Context, rec Record) (uuid.UUID, error)
	UpdateSession(ctx context.Context, id uuid.UUID, rec Record) error
}

type State int

const (
	Idle State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	}
	return "idle"
}

type Outcome string

const (
	Started Outcome = "started"
	Skipped Outcome = "skipped"
)

const (
	ReasonNoUser   = "no authenticated user"
	ReasonNoCourse = "no course"
)

// StartResult tells the caller whether StartTracking began a session, and
// if not, why.
type StartResult struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

type Snapshot struct {
	State              State              `json:"-"`
	SessionID          uuid.UUID          `json:"session_id"`
	Resource           models.ResourceRef `json:"resource"`
	AccumulatedMinutes int                `json:"accumulated_minutes"`
	StartedAt          time.Time          `json:"started_at"`
	LastActiveAt       time.Time          `json:"last_active_at"`
}

// Tracker runs one tracking lifecycle at a time. All methods are safe for
// concurrent use; persistence calls are serialised.
type Tracker struct {
	cfg      Config
	clock    clock.Clock
	recorder Recorder
	metrics  *metrics.Metrics

	// lifecycleMu serialises starting and stopping lifecycles.
	lifecycleMu sync.Mutex
	// saveMu is held for the duration of a persistence call. Ticks skip
	// when it is taken; StopTracking waits for it.
	saveMu sync.Mutex

	mu          sync.Mutex
	tracking    bool
	generation  int
	userID      uuid.UUID
	resource    models.ResourceRef
	sessionID   uuid.UUID
	startedAt   time.Time
	lastActive  time.Time
	activeSince time.Time // zero while hidden or suspended by idleness
	hidden      bool
	unsaved     time.Duration
	persisted   time.Duration
	loop        *tomb.Tomb
	hiddenTimer clock.Timer
}

// New returns an idle tracker. Zero config fields take their defaults;
// m may be nil.
func New(cfg Config, clk clock.Clock, recorder Recorder, m *metrics.Metrics) *Tracker {
	def := DefaultConfig()
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = def.AutoSaveInterval
	}
	if cfg.MinSessionDuration <= 0 {
		cfg.MinSessionDuration = def.MinSessionDuration
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}
	if cfg.HiddenStopAfter < 0 {
		cfg.HiddenStopAfter = 0
	}
	if cfg.SessionType == "" {
		cfg.SessionType = def.SessionType
	}
	return &Tracker{
		cfg:      cfg,
		clock:    clk,
		recorder: recorder,
		metrics:  m,
	}
}

// StartTracking begins a new lifecycle for userID studying ref. A running
// lifecycle is stopped, with its final save, first.
func (t *Tracker) StartTracking(ctx context.Context, userID uuid.UUID, ref models.ResourceRef) StartResult {
	if userID == uuid.Nil {
		return StartResult{Outcome: Skipped, Reason: ReasonNoUser}
	}
	if ref.CourseID == uuid.Nil {
		return StartResult{Outcome: Skipped, Reason: ReasonNoCourse}
	}

	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.stop(ctx, -1)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.generation++
	t.tracking = true
	t.userID = userID
	t.resource = ref
	t.sessionID = uuid.Nil
	t.startedAt = now
	t.lastActive = now
	t.activeSince = now
	t.hidden = false
	t.unsaved = 0
	t.persisted = 0

	loop := new(tomb.Tomb)
	t.loop = loop
	loop.Go(func() error {
		return t.run(loop)
	})

	logger.Debugf("user %s: tracking course %s", userID, ref.CourseID)
	return StartResult{Outcome: Started}
}

// Touch records user activity.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking {
		return
	}

	now := t.clock.Now()
	if !t.activeSince.IsZero() && !t.isActiveSession(now) {
		// Back from idleness that no tick has observed yet: the window
		// closed at the last activity and the gap is dropped.
		t.accrue()
		t.activeSince = now
	}
	t.lastActive = now
	if t.activeSince.IsZero() && !t.hidden {
		t.activeSince = now
	}
}

// PauseTracking stops accrual while the page is hidden.
func (t *Tracker) PauseTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking || t.hidden {
		return
	}

	t.accrue()
	t.activeSince = time.Time{}
	t.hidden = true

	if t.cfg.HiddenStopAfter > 0 {
		gen := t.generation
		t.hiddenTimer = t.clock.AfterFunc(t.cfg.HiddenStopAfter, func() {
			t.stopHidden(gen)
		})
	}
}

// ResumeTracking restarts accrual when the page becomes visible again.
func (t *Tracker) ResumeTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking || !t.hidden {
		return
	}

	t.stopHiddenTimer()
	now := t.clock.Now()
	t.hidden = false
	t.activeSince = now
	t.lastActive = now
}

// StopTracking ends the lifecycle: it cancels the auto-save loop, saves the
// session regardless of its length and returns what was tracked.
func (t *Tracker) StopTracking(ctx context.Context) Snapshot {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	return t.stop(ctx, -1)
}

func (t *Tracker) stop(ctx context.Context, generation int) Snapshot {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if !t.tracking || (generation >= 0 && generation != t.generation) {
		t.mu.Unlock()
		return Snapshot{State: Idle}
	}
	loop := t.loop
	t.loop = nil
	t.stopHiddenTimer()
	t.mu.Unlock()

	loop.Kill(nil)
	if err := loop.Wait(); err != nil {
		logger.Warningf("auto-save loop stopped with error: %v", err)
	}

	t.save(ctx, true)

	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snapshot()
	logger.Debugf("user %s: stopped tracking course %s after %d minutes", t.userID, t.resource.CourseID, snap.AccumulatedMinutes)

	t.tracking = false
	t.userID = uuid.Nil
	t.resource = models.ResourceRef{}
	t.sessionID = uuid.Nil
	t.startedAt = time.Time{}
	t.lastActive = time.Time{}
	t.activeSince = time.Time{}
	t.hidden = false
	t.unsaved = 0
	t.persisted = 0

	snap.State = Idle
	return snap
}

func (t *Tracker) stopHidden(generation int) {
	t.mu.Lock()
	hidden := t.tracking && t.hidden && t.generation == generation
	t.mu.Unlock()
	if !hidden {
		return
	}
	logger.Debugf("page hidden for %s, ending session", t.cfg.HiddenStopAfter)
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	t.stop(context.Background(), generation)
}

func (t *Tracker) stopHiddenTimer() {
	if t.hiddenTimer != nil {
		t.hiddenTimer.Stop()
		t.hiddenTimer = nil
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking {
		return Snapshot{State: Idle}
	}
	return t.snapshot()
}

func (t *Tracker) snapshot() Snapshot {
	state := Active
	if t.hidden {
		state = Paused
	}
	return Snapshot{
		State:              state,
		SessionID:          t.sessionID,
		Resource:           t.resource,
		AccumulatedMinutes: toMinutes(t.persisted + t.unsaved + t.pending()),
		StartedAt:          t.startedAt,
		LastActiveAt:       t.lastActive,
	}
}

func (t *Tracker) run(loop *tomb.Tomb) error {
	ctx := loop.Context(context.Background())
	for {
		select {
		case <-loop.Dying():
			return nil
		case <-t.clock.After(t.cfg.AutoSaveInterval):
			t.tick(ctx)
		}
	}
}

// tick is one auto-save attempt. It persists nothing while the user is
// idle, and suspends the accrual window instead.
func (t *Tracker) tick(ctx context.Context) {
	if !t.saveMu.TryLock() {
		logger.Debugf("previous save still in flight, skipping tick")
		t.metrics.ObserveSave("skipped_busy")
		return
	}
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	if !t.isActiveSession(t.clock.Now()) {
		t.accrue()
		t.activeSince = time.Time{}
		t.mu.Unlock()
		t.metrics.ObserveSave("skipped_idle")
		return
	}
	t.mu.Unlock()

	t.save(ctx, false)
}

// save persists the running total. The caller holds saveMu. Below the
// minimum duration nothing is saved unless the session is ending. On
// failure the accrued time stays unsaved and is included next time.
func (t *Tracker) save(ctx context.Context, ending bool) {
	t.mu.Lock()
	if !t.tracking {
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	t.accrue()
	if !t.isActiveSession(now) {
		t.activeSince = time.Time{}
	}

	delta := t.unsaved
	if !ending && delta < t.cfg.MinSessionDuration {
		t.mu.Unlock()
		t.metrics.ObserveSave("skipped_short")
		return
	}

	rec := Record{
		UserID:          t.userID,
		Resource:        t.resource,
		SessionType:     t.cfg.SessionType,
		DurationMinutes: toMinutes(t.persisted + delta),
		StartedAt:       t.startedAt,
		LastActiveAt:    t.lastActive,
		EndedAt:         now,
	}
	id := t.sessionID
	gen := t.generation
	t.mu.Unlock()

	var err error
	outcome := "updated"
	if id == uuid.Nil {
		outcome = "created"
		id, err = t.recorder.RecordSession(ctx, rec)
	} else {
		err = t.recorder.UpdateSession(ctx, id, rec)
	}
	if err != nil {
		logger.Errorf("user %s: saving study session for course %s: %v", rec.UserID, rec.Resource.CourseID, err)
		t.metrics.ObserveSave("failed")
		return
	}
	t.metrics.ObserveSave(outcome)

	t.mu.Lock()
	if t.generation == gen {
		t.sessionID = id
		t.persisted += delta
		t.unsaved -= delta
	}
	t.mu.Unlock()
}

func (t *Tracker) isActiveSession(now time.Time) bool {
	return now.Sub(t.lastActive) < t.cfg.IdleThreshold
}

// pending is the accrual of the open window. The window ends at the last
// activity, so it only grows as activity arrives and time without
// interaction is never counted.
func (t *Tracker) pending() time.Duration {
	if t.activeSince.IsZero() || !t.lastActive.After(t.activeSince) {
		return 0
	}
	return t.lastActive.Sub(t.activeSince)
}

// accrue folds the open window into the unsaved total and reopens it at
// the last activity.
func (t *Tracker) accrue() {
	if t.activeSince.IsZero() {
		return
	}
	t.unsaved += t.pending()
	if t.lastActive.After(t.activeSince) {
		t.activeSince = t.lastActive
	}
}

func toMinutes(d time.Duration) int {
	return int(math.Round(d.Minutes()))
}
