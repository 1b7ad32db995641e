package quota

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Search Console allows 2000 URL inspections per property per day.
const (
	DefaultCeiling           = 2000
	DefaultWindow            = 24 * time.Hour
	DefaultCooldown          = 24 * time.Hour
	DefaultRequestsPerMinute = 600
)

// Decision is the answer to TryConsume
type Decision int

const (
	Granted Decision = iota
	MustWait
)

// State is the per-property quota state
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
)

// Config controls quota enforcement for every property.
type Config struct {
	Ceiling           int           // Remote fetches allowed per window
	Window            time.Duration // Counter resets on its own once a window has passed; 0 disables
	Cooldown          time.Duration // Pause applied when the ceiling is reached
	RequestsPerMinute int           // Pacing between remote calls; 0 disables
}

// DefaultConfig returns the reference policy with environment overrides applied
func DefaultConfig() Config {
	cfg := Config{
		Ceiling:           DefaultCeiling,
		Window:            DefaultWindow,
		Cooldown:          DefaultCooldown,
		RequestsPerMinute: DefaultRequestsPerMinute,
	}

	if v, ok := os.LookupEnv("INSPECTOR_QUOTA_CEILING"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ceiling = n
		}
	}
	if v, ok := os.LookupEnv("INSPECTOR_QUOTA_WINDOW_HOURS"); ok {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 {
			cfg.Window = time.Duration(h) * time.Hour
		}
	}
	if v, ok := os.LookupEnv("INSPECTOR_COOLDOWN_SECONDS"); ok {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			cfg.Cooldown = time.Duration(sec) * time.Second
		}
	}
	if v, ok := os.LookupEnv("INSPECTOR_REQUESTS_PER_MINUTE"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RequestsPerMinute = n
		}
	}

	return cfg
}

// Snapshot is a point-in-time copy of a tracker's state
type Snapshot struct {
	Property    string
	State       State
	Count       int
	WindowStart time.Time
	Suspensions int
}

// Tracker enforces the request quota of a single property.
// It is safe for concurrent use, although normally only the property's worker touches it.
type Tracker struct {
	property string
	cfg      Config
	limiter  *rate.Limiter
	now      func() time.Time
	sleep    util.Sleeper

	mu          sync.Mutex
	state       State
	count       int
	windowStart time.Time
	suspensions int
}

// NewTracker creates an ACTIVE tracker with a zero count
func NewTracker(property string, cfg Config) *Tracker {
	return newTracker(property, cfg, time.Now, util.SleepContext)
}

func newTracker(property string, cfg Config, now func() time.Time, sleep util.Sleeper) *Tracker {
	t := &Tracker{
		property:    property,
		cfg:         cfg,
		now:         now,
		sleep:       sleep,
		state:       StateActive,
		windowStart: now(),
	}
	if cfg.RequestsPerMinute > 0 {
		t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return t
}

// Property returns the property this tracker counts for
func (t *Tracker) Property() string {
	return t.property
}

// TryConsume reports whether another request may be attempted.
// It does not change the count; Record does that once a remote fetch succeeds.
func (t *Tracker) TryConsume() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.cfg.Window > 0 && now.Sub(t.windowStart) >= t.cfg.Window {
		if t.count > 0 {
			log.Debug().
				Str("property", t.property).
				Int("previous_count", t.count).
				Msg("Quota window elapsed, resetting counter")
		}
		t.count = 0
		t.windowStart = now
	}

	if t.cfg.Ceiling > 0 && t.count >= t.cfg.Ceiling {
		return MustWait
	}
	return Granted
}

// Record counts one successful remote fetch
func (t *Tracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
}

// Suspend blocks for the configured cooldown and then resets the counter.
// If ctx ends first the tracker stays suspended and ctx.Err() is returned.
func (t *Tracker) Suspend(ctx context.Context) error {
	t.mu.Lock()
	t.state = StateSuspended
	t.suspensions++
	count := t.count
	t.mu.Unlock()

	log.Info().
		Str("property", t.property).
		Int("count", count).
		Int("ceiling", t.cfg.Ceiling).
		Dur("cooldown", t.cfg.Cooldown).
		Msg("Request limit reached for property, pausing")

	if err := t.sleep(ctx, t.cfg.Cooldown); err != nil {
		return err
	}

	t.mu.Lock()
	t.state = StateActive
	t.count = 0
	t.windowStart = t.now()
	t.mu.Unlock()

	log.Info().Str("property", t.property).Msg("Resuming property after quota pause")
	return nil
}

// Pace waits until the per-minute request rate allows another remote call
func (t *Tracker) Pace(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

// Snapshot returns the tracker's current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Property:    t.property,
		State:       t.state,
		Count:       t.count,
		WindowStart: t.windowStart,
		Suspensions: t.suspensions,
	}
}

// Registry hands out one Tracker per property
type Registry struct {
	cfg   Config
	now   func() time.Time
	sleep util.Sleeper

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry using cfg for every property
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		now:      time.Now,
		sleep:    util.SleepContext,
		trackers: make(map[string]*Tracker),
	}
}

// For returns the tracker for a property, creating it on first use
func (r *Registry) For(property string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[property]; ok {
		return t
	}

	t := newTracker(property, r.cfg, r.now, r.sleep)
	r.trackers[property] = t
	return t
}

// Snapshots returns the state of every tracker created so far
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Snapshot())
	}
	return out
}
