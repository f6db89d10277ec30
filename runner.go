package pulsekeeper

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Mode is the runner's operating mode. Exactly one mode is active at a time;
// stopped is terminal for a run instance.
type Mode string

const (
	ModeStopped    Mode = "stopped"
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
)

// ParseMode converts a user-supplied string into a startable mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ModeForeground):
		return ModeForeground, nil
	case string(ModeBackground):
		return ModeBackground, nil
	default:
		return "", errors.Errorf("invalid runner mode %q", value)
	}
}

// Notifier is the foreground notification surface consumed by the runner.
type Notifier interface {
	SetForegroundInfo(title, content string) error
}

// LogSink persists rendered error records and reads them back bounded.
type LogSink interface {
	AppendLog(ctx context.Context, message string) error
	ReadAllLogs(ctx context.Context, limit int) ([]string, error)
}

type noopNotifier struct{}

func (noopNotifier) SetForegroundInfo(title, content string) error { return nil }

type noopLogSink struct{}

func (noopLogSink) AppendLog(ctx context.Context, message string) error { return nil }

func (noopLogSink) ReadAllLogs(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

// ErrorRecord is one absorbed tick fault.
type ErrorRecord struct {
	At      time.Time
	Message string
}

// String renders the record as the single log line persisted in the sink.
func (r ErrorRecord) String() string {
	return r.At.Format(time.RFC3339) + " " + r.Message
}

// Config controls Runner behavior. Channel is required; every other
// collaborator has a no-op default.
type Config struct {
	TickInterval time.Duration
	Channel      *Bus
	Notifier     Notifier
	LogSink      LogSink
	// Granted is the notification capability gate, consulted each foreground
	// tick. A denial skips the refresh silently.
	Granted func() bool
	// NotifyTitle supplies the live notification title.
	NotifyTitle func() string
}

// StartOptions mirror the start operation's parameters.
type StartOptions struct {
	// AutoStart false records the requested mode without launching the loop.
	AutoStart   bool
	InitialMode Mode
}

// Snapshot is a point-in-time view of the runner for synchronous queries.
type Snapshot struct {
	Running    bool      `json:"running"`
	Mode       Mode      `json:"mode"`
	Device     string    `json:"device"`
	StartedAt  time.Time `json:"started_at"`
	Ticks      uint64    `json:"ticks"`
	LastTickAt time.Time `json:"last_tick_at"`
}

// Runner is the background heartbeat loop. It owns the mode state machine and
// the device binding, announces itself on the control channel, emits one
// status update per tick, and absorbs every tick fault into the log sink.
type Runner struct {
	cfg Config

	mu        sync.Mutex
	mode      Mode
	device    string
	running   bool
	instance  *runInstance
	startedAt time.Time
	ticks     uint64
	lastTick  time.Time
}

// runInstance holds the per-start resources: timer goroutine, command
// subscriptions, stop signal. A restart after Stop builds a fresh one.
type runInstance struct {
	stop     chan struct{}
	stopOnce sync.Once
	subs     []*Subscription
}

func (inst *runInstance) shutdown() {
	inst.stopOnce.Do(func() {
		close(inst.stop)
		for _, sub := range inst.subs {
			sub.Cancel()
		}
	})
}

// NewRunner builds a stopped runner with the provided configuration.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Channel == nil {
		return nil, errors.New("runner: control channel cannot be nil")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.LogSink == nil {
		cfg.LogSink = noopLogSink{}
	}
	if cfg.Granted == nil {
		cfg.Granted = func() bool { return true }
	}
	if cfg.NotifyTitle == nil {
		cfg.NotifyTitle = func() string { return "pulsekeeper service" }
	}
	return &Runner{
		cfg:    cfg,
		mode:   ModeStopped,
		device: DeviceUnknown,
	}, nil
}

// Start launches a fresh run instance and reports whether it did. It is
// idempotent: a second call while running is a no-op returning false. With
// AutoStart false it only records the requested initial mode. The
// ServiceStarted announcement is published before the first tick can fire;
// the tick loop then runs on a fixed cadence after one full interval of
// warm-up.
func (r *Runner) Start(ctx context.Context, opts StartOptions) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	mode := opts.InitialMode
	if mode != ModeForeground && mode != ModeBackground {
		if mode != "" {
			log.Warn().Str("mode", string(mode)).Msg("runner: unsupported initial mode, using background")
		}
		mode = ModeBackground
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Debug().Msg("runner: already running, start ignored")
		return false
	}
	r.mode = mode
	if !opts.AutoStart {
		r.mu.Unlock()
		log.Info().Str("mode", string(mode)).Msg("runner: start deferred, auto start disabled")
		return false
	}
	inst := &runInstance{stop: make(chan struct{})}
	inst.subs = []*Subscription{
		r.cfg.Channel.Subscribe(TopicSetDevice, 0),
		r.cfg.Channel.Subscribe(TopicSetForeground, 0),
		r.cfg.Channel.Subscribe(TopicSetBackground, 0),
		r.cfg.Channel.Subscribe(TopicStopService, 0),
	}
	r.instance = inst
	r.running = true
	r.device = DeviceUnknown
	r.startedAt = time.Now().UTC()
	r.ticks = 0
	r.lastTick = time.Time{}
	r.mu.Unlock()

	if err := r.cfg.Channel.Publish(TopicServiceStarted, ServiceStarted{}); err != nil {
		r.recordFault(ctx, errors.Wrap(err, "publish service started failed"))
	}

	go r.commandLoop(ctx, inst)
	go r.runLoop(ctx, inst)

	log.Info().
		Str("mode", string(mode)).
		Dur("tick_interval", r.cfg.TickInterval).
		Msg("runner: started")
	return true
}

// Stop ends the current run instance: mode flips to stopped, the timer
// goroutine exits after any in-flight tick, and the instance's command
// subscriptions are cancelled. Stop is idempotent; a later Start builds a
// fresh instance.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mode = ModeStopped
	inst := r.instance
	r.mu.Unlock()

	if inst != nil {
		inst.shutdown()
	}
	log.Info().Msg("runner: stopped")
}

// SetMode switches between foreground and background. The change takes effect
// on the next tick; an in-flight tick keeps the mode it observed.
func (r *Runner) SetMode(mode Mode) error {
	if mode != ModeForeground && mode != ModeBackground {
		return errors.Errorf("runner: invalid mode %q, use Stop to stop", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return errors.New("runner: not running")
	}
	if r.mode == mode {
		return nil
	}
	r.mode = mode
	log.Info().Str("mode", string(mode)).Msg("runner: mode changed")
	return nil
}

// BindDevice overwrites the device binding used by subsequent ticks. Blank
// identifiers are ignored.
func (r *Runner) BindDevice(device string) {
	device = strings.TrimSpace(device)
	if device == "" {
		log.Warn().Msg("runner: ignoring empty device binding")
		return
	}
	r.mu.Lock()
	r.device = device
	r.mu.Unlock()
	log.Info().Str("device", device).Msg("runner: device bound")
}

// IsRunning reports whether a run instance is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Snapshot returns the current state for status surfaces.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Running:    r.running,
		Mode:       r.mode,
		Device:     r.device,
		StartedAt:  r.startedAt,
		Ticks:      r.ticks,
		LastTickAt: r.lastTick,
	}
}

func (r *Runner) runLoop(ctx context.Context, inst *runInstance) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case <-inst.stop:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// commandLoop funnels channel commands into the synchronous operations, so
// commands and direct calls share one serialization point.
func (r *Runner) commandLoop(ctx context.Context, inst *runInstance) {
	setDevice, setForeground, setBackground, stopService :=
		inst.subs[0], inst.subs[1], inst.subs[2], inst.subs[3]
	for {
		select {
		case <-ctx.Done():
			return
		case <-inst.stop:
			return
		case payload, ok := <-setDevice.C():
			if !ok {
				return
			}
			if cmd, valid := payload.(SetDevice); valid {
				r.BindDevice(cmd.Device)
			}
		case _, ok := <-setForeground.C():
			if !ok {
				return
			}
			if err := r.SetMode(ModeForeground); err != nil {
				log.Warn().Err(err).Msg("runner: set foreground command failed")
			}
		case _, ok := <-setBackground.C():
			if !ok {
				return
			}
			if err := r.SetMode(ModeBackground); err != nil {
				log.Warn().Err(err).Msg("runner: set background command failed")
			}
		case _, ok := <-stopService.C():
			if !ok {
				return
			}
			r.Stop()
			return
		}
	}
}

// tick performs one heartbeat: refresh the notification surface when in
// foreground mode and permitted, then publish the status update. Mode and
// device are snapshotted once at the top, so commands landing mid-tick apply
// to the next tick. Every fault is absorbed into the log sink; a notification
// fault never suppresses the same tick's update.
func (r *Runner) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.recordFault(ctx, errors.Errorf("tick panic: %v", rec))
		}
	}()

	r.mu.Lock()
	mode := r.mode
	device := r.device
	r.mu.Unlock()

	if mode == ModeStopped {
		return
	}

	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339)

	if mode == ModeForeground && r.cfg.Granted() {
		if err := r.refreshNotification(stamp); err != nil {
			r.recordFault(ctx, err)
		}
	}

	update := StatusUpdate{CurrentDate: stamp, Device: device}
	if err := r.cfg.Channel.Publish(TopicUpdate, update); err != nil {
		r.recordFault(ctx, errors.Wrap(err, "publish status update failed"))
	}

	r.mu.Lock()
	r.ticks++
	r.lastTick = now
	r.mu.Unlock()
}

// refreshNotification pushes the wall-clock stamp onto the persistent
// notification surface. A panicking notifier is converted into an error so
// the surrounding tick still publishes its status update.
func (r *Runner) refreshNotification(stamp string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("notifier panic: %v", rec)
		}
	}()
	if notifyErr := r.cfg.Notifier.SetForegroundInfo(r.cfg.NotifyTitle(), "updated at "+stamp); notifyErr != nil {
		return errors.Wrap(notifyErr, "refresh foreground notification failed")
	}
	return nil
}

// recordFault converts a tick fault into an ErrorRecord and appends it to the
// log sink. Faults never escalate out of the tick.
func (r *Runner) recordFault(ctx context.Context, err error) {
	if err == nil {
		return
	}
	record := ErrorRecord{At: time.Now().UTC(), Message: err.Error()}
	log.Error().Err(err).Msg("runner: tick fault")
	if sinkErr := r.cfg.LogSink.AppendLog(ctx, record.String()); sinkErr != nil {
		log.Error().Err(sinkErr).Msg("runner: append error record failed")
	}
}
