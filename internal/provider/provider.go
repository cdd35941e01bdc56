package provider

import "context"

// Resolution statuses reported by the unlocking provider.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusError   = "error"
)

// FileDescriptor is one retrievable file reported by the provider.
type FileDescriptor struct {
	Index     int
	Name      string
	SizeBytes int64
	// Link is the provider-side retrieval handle; it still needs an
	// Unlock call to become a direct download URL.
	Link string
}

// Resolution is the provider's view of a source at one point in time.
type Resolution struct {
	Status  string
	Ref     string
	Files   []FileDescriptor
	Message string
}

// Provider converts a submitted source into downloadable file handles.
// Implementations are driven by the resolver's bounded poll loop and must
// not block beyond a single call.
type Provider interface {
	// Resolve issues the initial unlock call for a source and returns a
	// provider reference for subsequent polling. Direct URLs usually come
	// back ready immediately; swarm sources start pending.
	Resolve(ctx context.Context, sourceKind, source string) (Resolution, error)

	// PollStatus re-checks a previously submitted source.
	PollStatus(ctx context.Context, ref string) (Resolution, error)

	// Unlock turns a file's retrieval handle into a direct download URL.
	Unlock(ctx context.Context, link string) (string, error)
}

// Error is a provider failure. Transient errors are retried inside the
// resolution poll loop; permanent ones abort the task with the provider's
// message recorded verbatim.
type Error struct {
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return "provider: " + e.Message
}
