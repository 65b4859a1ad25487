package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ShayCichocki/conclave/internal/retry"
)

// ErrLockTimeout indicates the exclusive document lock could not be
// acquired within the configured retry bound. Transient: the caller may
// back off and try again, but must not treat it as task failure.
var ErrLockTimeout = errors.New("document lock timeout")

// ErrDocumentTooLarge indicates an update would grow the document past
// the configured size cap. The update is rejected, never truncated.
var ErrDocumentTooLarge = errors.New("document exceeds size limit")

// DefaultMaxBytes bounds document growth when no cap is configured.
const DefaultMaxBytes = 8 << 20 // 8 MiB

// Accessor provides atomic read and read-modify-write access to one
// shared job document. All writers on the same path are serialized
// through an exclusive advisory lock.
type Accessor struct {
	path     string
	lockWait retry.Policy
	maxBytes int
}

// AccessorOption customizes an Accessor.
type AccessorOption func(*Accessor)

// WithLockPolicy sets the lock-acquisition retry schedule.
func WithLockPolicy(p retry.Policy) AccessorOption {
	return func(a *Accessor) { a.lockWait = p }
}

// WithMaxBytes sets the document size cap enforced on write.
func WithMaxBytes(n int) AccessorOption {
	return func(a *Accessor) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// NewAccessor creates an accessor for the document at path.
func NewAccessor(path string, opts ...AccessorOption) *Accessor {
	a := &Accessor{
		path:     path,
		lockWait: retry.DefaultPolicy(),
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Path returns the document path.
func (a *Accessor) Path() string {
	return a.path
}

// Exists reports whether the document file is present.
func (a *Accessor) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}

// Read returns a fully parsed, validated snapshot of the document.
// No lock is taken: writes are atomic renames, so a read always sees a
// complete document.
func (a *Accessor) Read() (*Document, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Parse(data)
}

// Create writes the initial document. It fails if a document already
// exists at the path: jobs are never silently overwritten.
func (a *Accessor) Create(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write document: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync document: %w", err)
	}
	return f.Close()
}

// Update atomically applies mutate to the current document under the
// exclusive lock: read bytes, parse, mutate, validate, write to a temp
// file, rename over the original. Historical content survives because
// mutate operates on the parsed document and the codec only appends to
// output, notes, and event-log sections.
//
// Lock acquisition retries with bounded backoff; ErrLockTimeout is
// returned once the schedule is exhausted.
func (a *Accessor) Update(ctx context.Context, mutate func(*Document) error) (*Document, error) {
	lock := NewFileLock(a.path)

	err := a.lockWait.Do(ctx, func() error {
		ok, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return ErrLockTimeout
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("acquire document lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	doc, err := a.Read()
	if err != nil {
		return nil, err
	}

	if err := mutate(doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	data, err := Encode(doc)
	if err != nil {
		return nil, err
	}
	if len(data) > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrDocumentTooLarge, len(data), a.maxBytes)
	}

	if err := a.writeAtomic(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeAtomic writes data to a temp file in the document's directory and
// renames it over the document so readers never observe a torn file.
func (a *Accessor) writeAtomic(data []byte) error {
	dir := filepath.Dir(a.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(a.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp document: %w", err)
	}

	if err := os.Rename(tmpPath, a.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}
