package pulsekeeper

// Topic names form the control channel contract between the runner and the
// presentation side. Payload types are tagged with their topic and validated
// at the publish boundary.
const (
	// TopicServiceStarted announces a fresh run instance, published before its
	// first tick. No payload fields.
	TopicServiceStarted = "onServiceStarted"
	// TopicSetDevice binds the device identifier used in status updates.
	TopicSetDevice = "setDevice"
	// TopicSetForeground switches the runner to foreground mode.
	TopicSetForeground = "setAsForeground"
	// TopicSetBackground switches the runner to background mode.
	TopicSetBackground = "setAsBackground"
	// TopicStopService requests a cooperative terminal stop.
	TopicStopService = "stopService"
	// TopicUpdate carries the per-tick status update.
	TopicUpdate = "update"
)

// DeviceUnknown is the device binding before the startup handshake completes.
const DeviceUnknown = "unknown"

// Payload is implemented by every message that travels on the control channel.
// Topic returns the only topic the payload is valid on.
type Payload interface {
	Topic() string
}

// ServiceStarted is the runner's startup announcement.
type ServiceStarted struct{}

func (ServiceStarted) Topic() string { return TopicServiceStarted }

// SetDevice carries the device identifier resolved by the presentation side.
type SetDevice struct {
	Device string `json:"device"`
}

func (SetDevice) Topic() string { return TopicSetDevice }

// SetForeground switches the runner to foreground mode on its next tick.
type SetForeground struct{}

func (SetForeground) Topic() string { return TopicSetForeground }

// SetBackground switches the runner to background mode on its next tick.
type SetBackground struct{}

func (SetBackground) Topic() string { return TopicSetBackground }

// StopService asks the runner to stop after any in-flight tick completes.
type StopService struct{}

func (StopService) Topic() string { return TopicStopService }

// StatusUpdate is the heartbeat emitted once per tick while the runner is in
// foreground or background mode.
type StatusUpdate struct {
	CurrentDate string `json:"current_date"`
	Device      string `json:"device"`
}

func (StatusUpdate) Topic() string { return TopicUpdate }
