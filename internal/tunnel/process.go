package tunnel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// Process is a handle on a background child process.
type Process interface {
	Pid() int
	IsRunning() bool
	// Stop terminates the process and waits for it to exit.
	Stop() error
	// Wait blocks until the process exits. A process ended by Stop is not
	// an error.
	Wait() error
}

// ProcessStarter starts background processes.
type ProcessStarter interface {
	Start(name string, args ...string) (Process, error)
}

// ExecStarter implements ProcessStarter with os/exec.
type ExecStarter struct {
	// Stderr receives the child's stderr; nil discards it.
	Stderr io.Writer
	// StopTimeout is how long Stop waits after SIGTERM before killing.
	StopTimeout time.Duration
}

// NewExecStarter returns an ExecStarter writing child stderr to w.
func NewExecStarter(w io.Writer) *ExecStarter {
	return &ExecStarter{Stderr: w, StopTimeout: 5 * time.Second}
}

func (s *ExecStarter) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	if s.Stderr != nil {
		cmd.Stderr = s.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	timeout := s.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{}), stopTimeout: timeout}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd         *exec.Cmd
	done        chan struct{}
	err         error
	stopped     atomic.Bool
	stopTimeout time.Duration
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) IsRunning() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Stop() error {
	if !p.IsRunning() {
		return nil
	}
	p.stopped.Store(true)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %d: %w", p.Pid(), err)
	}
	select {
	case <-p.done:
	case <-time.After(p.stopTimeout):
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill %d: %w", p.Pid(), err)
		}
		<-p.done
	}
	return nil
}

func (p *execProcess) Wait() error {
	<-p.done
	if p.stopped.Load() {
		return nil
	}
	return p.err
}
