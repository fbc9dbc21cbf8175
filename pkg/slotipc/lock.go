package slotipc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// regionMutex is the single cross-process mutex guarding all slot scans
// and header mutations. It is an advisory flock(2) on a dedicated lock
// file next to the shared memory object ("<region>.lock").
//
// flock locks by inode, so the lock file must never be replaced while
// the region exists. The lock file is created once and left in place
// until [Region.Unlink]; Reset re-zeroes slot bytes but does not touch
// the lock file.
//
// Acquisition is non-blocking flock polled with exponential backoff up
// to a bounded timeout, so a crashed or wedged peer cannot block other
// participants forever.
type regionMutex struct {
	path    string
	timeout time.Duration

	file *os.File
}

const (
	lockFilePerm = 0o600

	lockBackoffStart = time.Millisecond
	lockBackoffCap   = 25 * time.Millisecond
)

func newRegionMutex(path string, timeout time.Duration) *regionMutex {
	return &regionMutex{path: path, timeout: timeout}
}

// acquire takes the exclusive region lock, retrying with backoff until
// the configured timeout expires.
//
// Possible errors:
//   - [ErrBusy]: the timeout expired while another process held the lock
func (m *regionMutex) acquire() error {
	file, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(m.timeout)
	backoff := lockBackoffStart

	for {
		err = flockRetryEINTR(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			m.file = file

			return nil
		}

		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			_ = file.Close()

			return fmt.Errorf("flock: %w", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			_ = file.Close()

			return fmt.Errorf("%w: lock not acquired within %s", ErrBusy, m.timeout)
		}

		time.Sleep(min(backoff, remaining))

		if backoff < lockBackoffCap {
			backoff = min(backoff*2, lockBackoffCap)
		}
	}
}

// release drops the lock and closes the descriptor. Closing the fd
// releases the flock even if the explicit unlock fails.
func (m *regionMutex) release() error {
	if m.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(m.file.Fd()), unix.LOCK_UN)
	closeErr := m.file.Close()
	m.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking region: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// Signals like SIGCHLD or SIGALRM can interrupt any blocking syscall;
// the call didn't fail, it just needs to be retried. Retries are capped
// to avoid spinning forever under a pathological signal storm.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for n := 0; n < maxEINTRRetries; n++ {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
