package pulsekeeper

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PresentationConfig wires the console presentation endpoint. Channel, Runner
// and ResolveDevice are required.
type PresentationConfig struct {
	Channel       *Bus
	Runner        *Runner
	Logs          LogSink
	ResolveDevice func(ctx context.Context) (string, error)
	InitialMode   Mode
	// AutoStart is passed through to the runner's start operation.
	AutoStart bool
	// StopOnExit sends a stop command over the channel when Run returns.
	StopOnExit      bool
	LogPollInterval time.Duration
	LogReadLimit    int
}

// Presentation drives the runner over the control channel: it performs the
// device binding handshake, renders every status update, and polls the log
// sink for fresh error records on its own cadence.
type Presentation struct {
	cfg      PresentationConfig
	lastLine string
}

// NewPresentation validates the wiring and applies defaults.
func NewPresentation(cfg PresentationConfig) (*Presentation, error) {
	if cfg.Channel == nil {
		return nil, errors.New("presentation: control channel cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, errors.New("presentation: runner cannot be nil")
	}
	if cfg.ResolveDevice == nil {
		return nil, errors.New("presentation: device resolver cannot be nil")
	}
	if cfg.Logs == nil {
		cfg.Logs = noopLogSink{}
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = 3 * time.Second
	}
	if cfg.LogReadLimit <= 0 {
		cfg.LogReadLimit = 500
	}
	return &Presentation{cfg: cfg}, nil
}

// Run subscribes, starts the runner and processes events until ctx is
// cancelled. Detaching does not stop the runner unless StopOnExit is set;
// the service is otherwise stopped by a stop command or a direct Stop.
func (p *Presentation) Run(ctx context.Context) error {
	started := p.cfg.Channel.Subscribe(TopicServiceStarted, 1)
	defer started.Cancel()
	updates := p.cfg.Channel.Subscribe(TopicUpdate, 0)
	defer updates.Cancel()
	if p.cfg.StopOnExit {
		defer func() {
			if err := p.cfg.Channel.Invoke(TopicStopService, StopService{}); err != nil {
				log.Warn().Err(err).Msg("presentation: send stop on exit failed")
			}
		}()
	}

	// The service outlives the presentation, so its instance is not tied to
	// this ctx. It winds down on a stop command or a direct Stop.
	launched := p.cfg.Runner.Start(context.Background(), StartOptions{
		AutoStart:   p.cfg.AutoStart,
		InitialMode: p.cfg.InitialMode,
	})
	if !launched && p.cfg.Runner.IsRunning() {
		// Attached to an already running instance: its announcement fired
		// before we subscribed and the channel keeps no history, so push the
		// binding right away.
		p.bindDevice(ctx)
	}

	ticker := time.NewTicker(p.cfg.LogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-started.C():
			if !ok {
				return nil
			}
			p.bindDevice(ctx)
		case payload, ok := <-updates.C():
			if !ok {
				return nil
			}
			if update, valid := payload.(StatusUpdate); valid {
				log.Info().
					Str("device", update.Device).
					Str("current_date", update.CurrentDate).
					Msg("status update")
			}
		case <-ticker.C:
			p.drainLogs(ctx)
		}
	}
}

// bindDevice completes the startup handshake: resolve the device identifier
// and send it over the channel.
func (p *Presentation) bindDevice(ctx context.Context) {
	device, err := p.cfg.ResolveDevice(ctx)
	if err != nil || device == "" {
		log.Warn().Err(err).Msg("presentation: resolve device failed, binding stays unknown")
		return
	}
	if err := p.cfg.Channel.Invoke(TopicSetDevice, SetDevice{Device: device}); err != nil {
		log.Warn().Err(err).Msg("presentation: send device binding failed")
		return
	}
	log.Info().Str("device", device).Msg("presentation: device binding sent")
}

// drainLogs renders log lines not seen yet.
func (p *Presentation) drainLogs(ctx context.Context) {
	lines, err := p.cfg.Logs.ReadAllLogs(ctx, p.cfg.LogReadLimit)
	if err != nil {
		log.Warn().Err(err).Msg("presentation: read service log failed")
		return
	}
	if len(lines) == 0 {
		return
	}
	for _, line := range freshLines(lines, p.lastLine) {
		log.Warn().Str("record", line).Msg("service fault")
	}
	p.lastLine = lines[len(lines)-1]
}

// freshLines cuts the already rendered portion off a log window. The sink
// returns the most recent bounded window, so the anchor is the last rendered
// line rather than an index; once it rolls out of the window the whole
// window counts as fresh.
func freshLines(lines []string, lastLine string) []string {
	if lastLine == "" {
		return lines
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i] == lastLine {
			return lines[i+1:]
		}
	}
	return lines
}
