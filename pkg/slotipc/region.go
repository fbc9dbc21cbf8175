package slotipc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Options configures a shared slot region.
type Options struct {
	// Name is the shared memory object name. The backing file lives at
	// Dir/Name. Must be non-empty and must not contain a path separator.
	Name string

	// SlotCount is the number of fixed-size slots. Must be > 0.
	SlotCount int

	// SlotSize is the size of each slot in bytes, header included.
	// Must be > HeaderSize.
	SlotSize int

	// Dir is the directory holding the backing object and the lock file.
	// Defaults to /dev/shm so non-Go peers using POSIX shared memory see
	// the same object.
	Dir string

	// LockTimeout bounds how long any operation waits for the region
	// mutex. Defaults to 2s.
	LockTimeout time.Duration
}

// DefaultDir is where region backing objects live unless overridden.
const DefaultDir = "/dev/shm"

// DefaultLockTimeout bounds region mutex acquisition unless overridden.
const DefaultLockTimeout = 2 * time.Second

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = DefaultDir
	}

	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}

	return o
}

func (o Options) validate() error {
	if o.Name == "" {
		return fmt.Errorf("region name must not be empty: %w", ErrInvalidInput)
	}

	if filepath.Base(o.Name) != o.Name {
		return fmt.Errorf("region name %q must not contain path separators: %w", o.Name, ErrInvalidInput)
	}

	if o.SlotCount <= 0 {
		return fmt.Errorf("slot count %d must be > 0: %w", o.SlotCount, ErrInvalidInput)
	}

	if o.SlotSize <= HeaderSize {
		return fmt.Errorf("slot size %d must be > header size %d: %w", o.SlotSize, HeaderSize, ErrInvalidInput)
	}

	return nil
}

func (o Options) totalSize() int {
	return o.SlotCount * o.SlotSize
}

// Region is a mapped view of the shared slot area. One process creates
// it (the broker); any number of processes attach to it (clients).
//
// All methods that touch slot bytes take the cross-process region mutex
// first; see [regionMutex]. A Region is safe for concurrent use by
// multiple goroutines.
type Region struct {
	_ [0]func() // prevent == comparison and copying via ==

	opts     Options
	path     string
	lockPath string

	mu     sync.Mutex // guards file/data/closed; held across slot access in locked
	file   *os.File
	data   []byte
	closed bool
}

const (
	regionFilePerm = 0o600

	createRetries      = 3
	createRetryBackoff = 100 * time.Millisecond
)

// Create builds a fresh region: the backing object is created, sized to
// slot_count * slot_size, and zeroed, which leaves every slot EMPTY.
//
// If a stale object with the same name exists it is unlinked and
// creation is retried a few times, so a broker restart does not require
// manual cleanup.
//
// Possible errors:
//   - [ErrInvalidInput]: bad geometry or name
//   - filesystem errors from the backing directory
func Create(opts Options) (*Region, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := checkArch(); err != nil {
		return nil, err
	}

	path := filepath.Join(opts.Dir, opts.Name)

	var (
		file *os.File
		err  error
	)

	for attempt := 0; attempt < createRetries; attempt++ {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, regionFilePerm)
		if err == nil {
			break
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating region object %s: %w", path, err)
		}

		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale region object %s: %w", path, rmErr)
		}

		time.Sleep(createRetryBackoff)
	}

	if file == nil {
		return nil, fmt.Errorf("creating region object %s: object keeps reappearing: %w", path, err)
	}

	total := opts.totalSize()

	if err := unix.Ftruncate(int(file.Fd()), int64(total)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)

		return nil, fmt.Errorf("sizing region object to %d bytes: %w", total, err)
	}

	region, err := mapRegion(file, path, opts)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)

		return nil, err
	}

	// Ftruncate zero-fills, but a recycled page cache entry after the
	// unlink-and-retry path must not leak old slot bytes.
	clear(region.data)

	return region, nil
}

// Attach opens an existing region created by another process. The
// backing object must be at least slot_count * slot_size bytes.
//
// Possible errors:
//   - [ErrNotFound]: no object with this name exists
//   - [ErrIncompatible]: the object is smaller than the geometry
//   - [ErrInvalidInput]: bad geometry or name
func Attach(opts Options) (*Region, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if err := checkArch(); err != nil {
		return nil, err
	}

	path := filepath.Join(opts.Dir, opts.Name)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("region object %s: %w", path, ErrNotFound)
		}

		return nil, fmt.Errorf("opening region object %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("stat region object %s: %w", path, err)
	}

	if info.Size() < int64(opts.totalSize()) {
		_ = file.Close()

		return nil, fmt.Errorf("region object %s is %d bytes, need %d: %w",
			path, info.Size(), opts.totalSize(), ErrIncompatible)
	}

	region, err := mapRegion(file, path, opts)
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	return region, nil
}

func mapRegion(file *os.File, path string, opts Options) (*Region, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, opts.totalSize(),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap region object %s: %w", path, err)
	}

	return &Region{
		opts:     opts,
		path:     path,
		lockPath: path + ".lock",
		file:     file,
		data:     data,
	}, nil
}

// checkArch rejects hosts the fixed little-endian wire format cannot be
// served on without byte swapping.
func checkArch() error {
	if !isLittleEndian {
		return fmt.Errorf("big-endian hosts are not supported: %w", ErrIncompatible)
	}

	return nil
}

// SlotCount returns the number of slots in the region.
func (r *Region) SlotCount() int { return r.opts.SlotCount }

// SlotSize returns the per-slot size in bytes, header included.
func (r *Region) SlotSize() int { return r.opts.SlotSize }

// PayloadCapacity returns the usable payload bytes per slot.
func (r *Region) PayloadCapacity() int { return r.opts.SlotSize - HeaderSize }

// Name returns the region name.
func (r *Region) Name() string { return r.opts.Name }

// Path returns the filesystem path of the backing object.
func (r *Region) Path() string { return r.path }

// slot returns the byte window of slot i. Callers must hold the region
// mutex and must have bounds-checked i.
func (r *Region) slot(i int) []byte {
	start := i * r.opts.SlotSize

	return r.data[start : start+r.opts.SlotSize]
}

// locked runs fn with the cross-process region mutex held. r.mu stays
// held for the whole call, so a concurrent [Region.Close] cannot unmap
// the data window while fn is reading it; Close blocks until fn
// returns.
//
// Possible errors:
//   - [ErrClosed]: the region was closed
//   - [ErrBusy]: the mutex was not acquired within the lock timeout
//   - whatever fn returns
func (r *Region) locked(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	m := newRegionMutex(r.lockPath, r.opts.LockTimeout)
	if err := m.acquire(); err != nil {
		return err
	}
	defer func() { _ = m.release() }()

	return fn()
}

// Status returns the current status of slot i.
func (r *Region) Status(i int) (Status, error) {
	if i < 0 || i >= r.opts.SlotCount {
		return 0, fmt.Errorf("slot index %d out of range [0,%d): %w", i, r.opts.SlotCount, ErrInvalidInput)
	}

	var s Status

	err := r.locked(func() error {
		s = slotStatus(r.slot(i))

		return nil
	})

	return s, err
}

// Snapshot returns the status of every slot in index order.
func (r *Region) Snapshot() ([]Status, error) {
	out := make([]Status, r.opts.SlotCount)

	err := r.locked(func() error {
		for i := range out {
			out[i] = slotStatus(r.slot(i))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Reset zeroes the entire region, returning every slot to EMPTY. This is
// the administrative recovery path for slots stuck in ERROR or orphaned
// by a crashed peer; in-flight work is discarded.
func (r *Region) Reset() error {
	return r.locked(func() error {
		clear(r.data)

		return nil
	})
}

// Close unmaps the region and closes the backing file. The backing
// object stays on disk so other participants keep working; use
// [Region.Unlink] to remove it.
//
// Close is idempotent.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true

	unmapErr := unix.Munmap(r.data)
	r.data = nil

	closeErr := r.file.Close()
	r.file = nil

	if unmapErr != nil {
		unmapErr = fmt.Errorf("munmap: %w", unmapErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing region fd: %w", closeErr)
	}

	return errors.Join(unmapErr, closeErr)
}

// Unlink removes the backing object and the lock file. Call after Close
// when tearing the region down for good (broker shutdown).
func (r *Region) Unlink() error {
	var errs []error

	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing region object: %w", err))
	}

	if err := os.Remove(r.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing lock file: %w", err))
	}

	return errors.Join(errs...)
}
