package backend

import "context"

// Transfer states normalized from the backend.
const (
	StateActive   = "active"
	StateWaiting  = "waiting"
	StateComplete = "complete"
	StateError    = "error"
)

// Progress is the byte-level view of one transfer.
type Progress struct {
	ReceivedBytes int64
	TotalBytes    int64
	State         string
	Message       string
}

// Backend performs the actual byte transfer for unlocked file URLs. The
// download driver polls it on a fixed cadence and never blocks on it.
type Backend interface {
	// Start enqueues a transfer and returns its handle.
	Start(ctx context.Context, url, dir, name string) (string, error)

	// Progress reports the current state of a transfer.
	Progress(ctx context.Context, gid string) (Progress, error)

	// Cancel stops a transfer. Already-written bytes are left on disk.
	Cancel(ctx context.Context, gid string) error
}

// Error is a backend-reported fault. The driver retries a bounded number
// of times before marking the file failed.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "backend: " + e.Message
}
