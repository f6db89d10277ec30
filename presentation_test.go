package pulsekeeper

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestNewPresentationValidatesWiring(t *testing.T) {
	bus := NewBus()
	runner, err := NewRunner(Config{Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	resolve := func(ctx context.Context) (string, error) { return "d", nil }

	cases := map[string]PresentationConfig{
		"missing channel":  {Runner: runner, ResolveDevice: resolve},
		"missing runner":   {Channel: bus, ResolveDevice: resolve},
		"missing resolver": {Channel: bus, Runner: runner},
	}
	for name, cfg := range cases {
		if _, err := NewPresentation(cfg); err == nil {
			t.Fatalf("%s accepted", name)
		}
	}
}

func TestPresentationPerformsHandshake(t *testing.T) {
	bus := NewBus()
	observer := bus.Subscribe(TopicUpdate, 32)
	defer observer.Cancel()

	runner, err := NewRunner(Config{TickInterval: 20 * time.Millisecond, Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer runner.Stop()

	pres, err := NewPresentation(PresentationConfig{
		Channel:         bus,
		Runner:          runner,
		ResolveDevice:   func(ctx context.Context) (string, error) { return "Pixel7", nil },
		InitialMode:     ModeBackground,
		AutoStart:       true,
		LogPollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPresentation returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pres.Run(ctx) }()

	waitFor(t, "handshake device to appear", func() bool {
		return nextUpdate(t, observer).Device == "Pixel7"
	})

	cancel()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("Run returned error: %v", runErr)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	// Detaching the presentation must not stop the service.
	if !runner.IsRunning() {
		t.Fatalf("runner stopped when the presentation detached")
	}
}

func TestPresentationStopOnExit(t *testing.T) {
	bus := NewBus()
	observer := bus.Subscribe(TopicUpdate, 32)
	defer observer.Cancel()

	runner, err := NewRunner(Config{TickInterval: 20 * time.Millisecond, Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer runner.Stop()

	pres, err := NewPresentation(PresentationConfig{
		Channel:         bus,
		Runner:          runner,
		ResolveDevice:   func(ctx context.Context) (string, error) { return "Pixel7", nil },
		InitialMode:     ModeBackground,
		AutoStart:       true,
		StopOnExit:      true,
		LogPollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPresentation returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pres.Run(ctx) }()

	waitFor(t, "service to start ticking", func() bool {
		return runner.IsRunning() && runner.Snapshot().Ticks > 0
	})

	cancel()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("Run returned error: %v", runErr)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	// The stop command travels the channel, so the runner winds down shortly
	// after the presentation detaches.
	waitFor(t, "runner to honor the stop command", func() bool {
		return !runner.IsRunning()
	})
}

func TestPresentationAttachesToRunningInstance(t *testing.T) {
	bus := NewBus()
	observer := bus.Subscribe(TopicUpdate, 32)
	defer observer.Cancel()

	runner, err := NewRunner(Config{TickInterval: 20 * time.Millisecond, Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	// The instance is already up; its announcement fired with nobody
	// subscribed.
	runner.Start(context.Background(), StartOptions{AutoStart: true, InitialMode: ModeBackground})
	defer runner.Stop()
	nextUpdate(t, observer)

	pres, err := NewPresentation(PresentationConfig{
		Channel:         bus,
		Runner:          runner,
		ResolveDevice:   func(ctx context.Context) (string, error) { return "Pixel7", nil },
		InitialMode:     ModeBackground,
		AutoStart:       true,
		LogPollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPresentation returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pres.Run(ctx) }()

	waitFor(t, "late attach to push the binding", func() bool {
		return nextUpdate(t, observer).Device == "Pixel7"
	})
}

func TestPresentationToleratesResolverFailure(t *testing.T) {
	bus := NewBus()
	observer := bus.Subscribe(TopicUpdate, 32)
	defer observer.Cancel()

	runner, err := NewRunner(Config{TickInterval: 20 * time.Millisecond, Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer runner.Stop()

	pres, err := NewPresentation(PresentationConfig{
		Channel:         bus,
		Runner:          runner,
		ResolveDevice:   func(ctx context.Context) (string, error) { return "", errors.New("no fingerprint source") },
		InitialMode:     ModeBackground,
		AutoStart:       true,
		LogPollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewPresentation returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pres.Run(ctx) }()

	// Ticking continues with the sentinel binding.
	for i := 0; i < 3; i++ {
		if update := nextUpdate(t, observer); update.Device != DeviceUnknown {
			t.Fatalf("update %d carries device %q, want %q", i, update.Device, DeviceUnknown)
		}
	}

	select {
	case runErr := <-done:
		t.Fatalf("Run exited on resolver failure: %v", runErr)
	default:
	}
}

func TestFreshLines(t *testing.T) {
	cases := []struct {
		name     string
		lines    []string
		lastLine string
		want     []string
	}{
		{
			name:  "nothing rendered yet",
			lines: []string{"a", "b"},
			want:  []string{"a", "b"},
		},
		{
			name:     "anchor in the middle",
			lines:    []string{"a", "b", "c"},
			lastLine: "b",
			want:     []string{"c"},
		},
		{
			name:     "anchor at the end",
			lines:    []string{"a", "b"},
			lastLine: "b",
			want:     []string{},
		},
		{
			name:     "anchor rolled out of the window",
			lines:    []string{"d", "e"},
			lastLine: "b",
			want:     []string{"d", "e"},
		},
		{
			name:     "duplicate lines anchor on the newest",
			lines:    []string{"a", "b", "a"},
			lastLine: "a",
			want:     []string{},
		},
	}
	for _, tc := range cases {
		got := freshLines(tc.lines, tc.lastLine)
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: want %v got %v", tc.name, tc.want, got)
		}
	}
}

func TestDrainLogsAdvancesAnchor(t *testing.T) {
	sink := &stubLogSink{}
	bus := NewBus()
	runner, err := NewRunner(Config{Channel: bus})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	pres, err := NewPresentation(PresentationConfig{
		Channel:       bus,
		Runner:        runner,
		Logs:          sink,
		ResolveDevice: func(ctx context.Context) (string, error) { return "d", nil },
		LogReadLimit:  2,
	})
	if err != nil {
		t.Fatalf("NewPresentation returned error: %v", err)
	}

	ctx := context.Background()
	pres.drainLogs(ctx)
	if pres.lastLine != "" {
		t.Fatalf("anchor moved on an empty sink: %q", pres.lastLine)
	}

	_ = sink.AppendLog(ctx, "rec-1")
	pres.drainLogs(ctx)
	if pres.lastLine != "rec-1" {
		t.Fatalf("anchor mismatch, want %q got %q", "rec-1", pres.lastLine)
	}

	// The read limit is 2, so rec-1 rolls out of the window here.
	_ = sink.AppendLog(ctx, "rec-2")
	_ = sink.AppendLog(ctx, "rec-3")
	pres.drainLogs(ctx)
	if pres.lastLine != "rec-3" {
		t.Fatalf("anchor mismatch, want %q got %q", "rec-3", pres.lastLine)
	}
}
