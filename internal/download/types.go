package download

import (
	"context"
	"time"
)

// Backend identifies the execution format of a model and therefore which
// file-selection strategy applies to its repository listing.
type Backend string

const (
	BackendGGUF   Backend = "gguf"
	BackendCoreML Backend = "coreml"
	BackendMLX    Backend = "mlx"
	BackendONNX   Backend = "onnx"
)

// DefaultRevision is the hub revision used when the caller doesn't pin one.
const DefaultRevision = "main"

// FileDescriptor describes one file in a remote model repository.
// A Size of zero or below means the hub didn't report one.
type FileDescriptor struct {
	Path string
	Size int64
	Hash string
}

// SizeKnown reports whether the hub provided a byte size for this file.
func (f FileDescriptor) SizeKnown() bool {
	return f.Size > 0
}

// State is the lifecycle state of a transfer.
type State string

const (
	StateNotStarted  State = "not_started"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further progress can happen without a fresh start.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DownloadStatus is the externally visible status of a resource.
// Fraction is only meaningful for downloading and paused states.
// Err is only set for the failed state.
type DownloadStatus struct {
	State    State
	Fraction float64
	Err      error
}

// DownloadProgress is a point-in-time snapshot of a running transfer.
type DownloadProgress struct {
	BytesDownloaded int64
	TotalBytes      int64
	FilesCompleted  int
	TotalFiles      int
	CurrentFileName string
}

// Fraction returns overall completion in [0, 1]. Unknown totals report zero
// so consumers never see a fraction that later decreases.
func (p DownloadProgress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}

	f := float64(p.BytesDownloaded) / float64(p.TotalBytes)
	if f > 1 {
		f = 1
	}

	return f
}

// ModelInfo describes a fully downloaded model as recorded in the catalog.
type ModelInfo struct {
	ID           string
	Name         string
	ResourceID   string
	Backend      Backend
	Location     string
	TotalSize    int64
	DownloadDate time.Time
	Metadata     map[string]string
}

// Event is one element of the per-call download event sequence. Exactly one
// of the fields is set; a terminal event (Completed or Err) is always last.
type Event struct {
	Progress  *DownloadProgress
	Completed *ModelInfo
	Err       error
}

// Catalog lists the contents of a remote model repository.
type Catalog interface {
	ListFiles(ctx context.Context, resourceID, revision string) ([]FileDescriptor, error)
	FileMetadata(ctx context.Context, resourceID, revision, path string) (FileDescriptor, error)
}

// ProgressFunc receives byte-level progress for a single file fetch.
type ProgressFunc func(written, total int64)

// FetchRequest describes one file fetch performed by a Transport.
type FetchRequest struct {
	ResourceID string
	Revision   string
	File       FileDescriptor
	Dest       string
	Offset     int64
	OnProgress ProgressFunc
}

// Transport streams the bytes of a single remote file to local disk.
// Fetch returns the total bytes present at Dest on success, including any
// bytes already there when Offset > 0. Implementations must honor ctx
// cancellation promptly.
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest) (int64, error)
	SupportsResume() bool
}

// AuthProvider supplies an optional bearer credential for hub requests.
// An empty token means anonymous access.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
}

// Blobstore is the local filesystem collaborator: scratch space for partial
// transfers, atomic promotion into permanent storage, capacity reporting and
// integrity checks.
type Blobstore interface {
	ScratchDir(identity string) (string, error)
	Finalize(identity string) (string, error)
	Discard(identity string) error
	AvailableSpace() (int64, error)
	Verify(path, wantHash string) error
}
