//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// IsRunning reports the recorded PID and whether that process is alive.
// FindProcess always succeeds on Windows, so liveness is checked with a
// zero signal.
func (p *PIDFile) IsRunning() (int, bool) {
	proc, pid, err := p.process()
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the recorded process. Only os.Kill is reliable here.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	proc, _, err := p.process()
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

func (p *PIDFile) process() (*os.Process, int, error) {
	pid, err := p.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read PID file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc, pid, nil
}

// Windows has no SIGTERM delivery; the sweeper is killed outright.
func (p *PIDFile) terminate() error { return p.kill() }

func (p *PIDFile) kill() error {
	proc, _, err := p.process()
	if err != nil {
		return err
	}
	return proc.Kill()
}
