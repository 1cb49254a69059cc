// Package daemon guards the background sweeper so that only one process
// sweeps a given state directory.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when a live process owns the PID file.
var ErrAlreadyRunning = errors.New("sweeper already running")

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Acquire claims the PID file for the current process. The file appears
// atomically with its content, so two processes starting together cannot
// both win. A file left behind by a dead process is taken over.
func (p *PIDFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := p.publish()
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create pid file: %w", err)
		}

		pid, running := p.IsRunning()
		if running {
			if pid == os.Getpid() {
				return nil
			}
			return fmt.Errorf("pid %d: %w", pid, ErrAlreadyRunning)
		}
		if err := p.clearStale(); err != nil {
			return err
		}
	}
	return fmt.Errorf("pid file %s kept changing: %w", p.Path, ErrAlreadyRunning)
}

// publish writes the current PID to a temp file and hard-links it into
// place. The link fails with fs.ErrExist when the PID file already exists.
func (p *PIDFile) publish() error {
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmp.Name(), p.Path)
}

// clearStale moves the PID file aside and deletes it if it still names a
// dead process. A live file that was swapped in meanwhile is put back.
func (p *PIDFile) clearStale() error {
	aside := &PIDFile{Path: fmt.Sprintf("%s.%d.%d.stale", p.Path, os.Getpid(), time.Now().UnixNano())}
	if err := os.Rename(p.Path, aside.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("move stale pid file: %w", err)
	}
	defer func() { _ = os.Remove(aside.Path) }()

	pid, running := aside.IsRunning()
	if !running {
		return nil
	}
	if err := os.Link(aside.Path, p.Path); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("restore pid file: %w", err)
	}
	if pid == os.Getpid() {
		return nil
	}
	return fmt.Errorf("pid %d: %w", pid, ErrAlreadyRunning)
}

// Release removes the PID file if it still belongs to the current process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return p.Remove()
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// Stop asks the recorded process to exit and waits up to grace for it to go
// away before killing it. The PID file is removed once the process is gone.
// It reports whether the process had to be killed.
func (p *PIDFile) Stop(grace time.Duration) (killed bool, err error) {
	if _, running := p.IsRunning(); !running {
		return false, p.removeIfExists()
	}
	if err := p.terminate(); err != nil {
		return false, fmt.Errorf("terminate: %w", err)
	}

	const poll = 100 * time.Millisecond
	for deadline := time.Now().Add(grace); time.Now().Before(deadline); time.Sleep(poll) {
		if _, running := p.IsRunning(); !running {
			return false, p.removeIfExists()
		}
	}

	if err := p.kill(); err != nil {
		return true, fmt.Errorf("kill: %w", err)
	}
	return true, p.removeIfExists()
}

func (p *PIDFile) removeIfExists() error {
	if err := p.Remove(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
