package platform

import (
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
)

// PlatformFault reports a failure of a platform surface (notification, file
// system). It is the recoverable kind of fault: callers record it and move on.
type PlatformFault struct {
	Surface string
	Err     error
}

func (f *PlatformFault) Error() string {
	return "platform: " + f.Surface + " fault: " + f.Err.Error()
}

func (f *PlatformFault) Unwrap() error {
	return f.Err
}

// Notifier is the foreground notification surface.
type Notifier interface {
	SetForegroundInfo(title, content string) error
}

// FileNotifier renders the foreground notification into a small status file,
// the desktop stand-in for a persistent notification. Writes are atomic
// (tmp + rename) so readers never observe a torn update.
type FileNotifier struct {
	path string
}

// NewFileNotifier prepares the notifier for path, creating the parent
// directory. An empty path resolves to ~/.pulsekeeper/notification.
func NewFileNotifier(path string) (*FileNotifier, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, pkgerrors.Wrap(err, "platform: locate user home failed")
		}
		path = filepath.Join(home, ".pulsekeeper", "notification")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "platform: create notification dir failed")
	}
	return &FileNotifier{path: path}, nil
}

// Path returns the status file location.
func (n *FileNotifier) Path() string {
	return n.path
}

// SetForegroundInfo replaces the notification content.
func (n *FileNotifier) SetForegroundInfo(title, content string) error {
	dir := filepath.Dir(n.path)
	tmp, err := os.CreateTemp(dir, ".notification-*")
	if err != nil {
		return &PlatformFault{Surface: "notification", Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(title + "\n" + content + "\n"); err != nil {
		_ = tmp.Close()
		return &PlatformFault{Surface: "notification", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PlatformFault{Surface: "notification", Err: err}
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		return &PlatformFault{Surface: "notification", Err: err}
	}
	return nil
}
