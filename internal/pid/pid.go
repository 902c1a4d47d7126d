// Package pid guards against two controllers driving the same fan pin.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/pifan/internal/errors"
)

// Path returns the pid file location for the named binary.
func Path(name string) string {
	return filepath.Join(os.TempDir(), name+".pid")
}

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning when the file names a live process; stale files are
// overwritten.
func Write(path string) error {
	errFactory := errors.New()

	if data, err := os.ReadFile(path); err == nil {
		if running(strings.TrimSpace(string(data))) {
			return errFactory.WithData(errors.ErrAlreadyRunning, path)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the pid file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func running(raw string) bool {
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
