// Package clock provides the scheduler's wall-clock source and the
// on-disk persistence of "last check" time as a zero-byte file's mtime.
package clock

import (
	"os"
	"time"
)

// Clock abstracts time.Now so tests can inject a fixed or advancing
// clock without sleeping real wall time.
type Clock interface {
	Now() time.Time
}

// Real is the Clock backed by the operating system's clock.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// CheckState persists the "last check" timestamp as the mtime of a
// zero-byte marker file, matching a cron daemon's habit of encoding a
// single timestamp as a file's metadata rather than its contents.
type CheckState struct {
	path string
}

// NewCheckState returns a CheckState backed by the marker file at path.
// The file is not created until Update is called.
func NewCheckState(path string) *CheckState {
	return &CheckState{path: path}
}

// Path returns the marker file's path.
func (c *CheckState) Path() string { return c.path }

// LastCheck reads the marker file's mtime. It returns ok=false if the
// marker does not yet exist (first run).
func (c *CheckState) LastCheck() (t time.Time, ok bool, err error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// Update stamps the marker file's mtime (creating it if absent) to t.
func (c *CheckState) Update(t time.Time) error {
	if _, err := os.Stat(c.path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		f, ferr := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return ferr
		}
		_ = f.Close()
	}
	return os.Chtimes(c.path, t, t)
}
