package backend

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// ErrNotStarted is returned by operations that need a spawned child.
var ErrNotStarted = errors.New("backend not started")

const killReapWait = 200 * time.Millisecond

// Process owns a single spawned backend child. It reaps the child as soon
// as it exits and answers non-blocking liveness queries in between. At most
// one child is ever attached to a Process; Start refuses to spawn a second.
type Process struct {
	spec Spec

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	startUnix int64 // OS-reported start time, guards against PID reuse
	exited    bool
	exitErr   error
	waitDone  chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Process {
	if spec.Name == "" {
		spec.Name = "backend"
	}
	return &Process{spec: spec}
}

func (p *Process) Spec() Spec { return p.spec }

// Start spawns the child with the given environment ("K=V" form; nil keeps
// the inherited environment), wires capture writers, writes the pidfile,
// and begins reaping in the background.
func (p *Process) Start(envv []string) error {
	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return errors.New("backend already started")
	}
	p.mu.Unlock()

	cmd := p.spec.BuildCommand()
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	if len(envv) > 0 {
		cmd.Env = envv
	}
	configureSysProcAttr(cmd, p.spec.Detached)
	p.attachOutput(cmd)

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return err
	}

	pid := cmd.Process.Pid
	p.mu.Lock()
	p.cmd = cmd
	p.startedAt = time.Now()
	p.startUnix = startTimeUnix(pid)
	p.waitDone = make(chan struct{})
	done := p.waitDone
	startUnix := p.startUnix
	p.mu.Unlock()

	writePIDFile(p.spec.PIDFile, pid, startUnix)

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.mu.Unlock()
		p.closeWriters()
		removePIDFile(p.spec.PIDFile)
		close(done)
	}()
	return nil
}

// attachOutput points the child's stdout/stderr at rotating capture files
// when configured, else at /dev/null so the child never blocks on a tty.
func (p *Process) attachOutput(cmd *exec.Cmd) {
	c := p.spec.Capture
	if c.Dir == "" && c.StdoutPath == "" && c.StderrPath == "" {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		return
	}
	if c.Dir != "" {
		_ = os.MkdirAll(c.Dir, 0o750)
	}
	outW, errW, _ := c.Writers(p.spec.Name)
	p.mu.Lock()
	p.outCloser, p.errCloser = outW, errW
	p.mu.Unlock()
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	out, errw := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errw != nil {
		_ = errw.Close()
	}
}

// PID returns the child's process ID, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Exited returns a channel closed once the child has been reaped. Before
// Start it returns a nil channel (blocks forever).
func (p *Process) Exited() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// ExitErr reports the child's wait error after it exited (nil for a clean
// exit), and ErrNotStarted/nil while it is still running.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return ErrNotStarted
	}
	return p.exitErr
}

// Alive is a non-blocking liveness check. It consults the reaper first,
// then the OS: a zombie or a vanished PID is dead, and a PID whose start
// time differs from the recorded one belongs to someone else.
func (p *Process) Alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	exited := p.exited
	startUnix := p.startUnix
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil || exited {
		return false
	}
	pid := cmd.Process.Pid
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	if !processExists(pid) {
		return false
	}
	if startUnix > 0 {
		if cur := startTimeUnix(pid); cur > 0 && cur != startUnix {
			return false
		}
	}
	return true
}

// Stop terminates the child: TERM to its process group, a bounded wait for
// the reaper, then KILL. It is a no-op when the child is already gone.
// The returned error is the child's exit error, not a stop failure.
func (p *Process) Stop(wait time.Duration) error {
	if !p.Alive() {
		return p.exitErrOrNil()
	}
	pid := p.PID()
	if wait <= 0 {
		wait = 5 * time.Second
	}
	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-p.Exited():
	case <-time.After(wait):
		_ = signalGroup(pid, syscall.SIGKILL)
		select {
		case <-p.Exited():
		case <-time.After(killReapWait):
			// best-effort; reaper will finish eventually
		}
	}
	return p.exitErrOrNil()
}

// Kill sends KILL to the process group immediately.
func (p *Process) Kill() error {
	pid := p.PID()
	if pid == 0 {
		return nil
	}
	_ = signalGroup(pid, syscall.SIGKILL)
	select {
	case <-p.Exited():
	case <-time.After(killReapWait):
	}
	return p.exitErrOrNil()
}

func (p *Process) exitErrOrNil() error {
	if err := p.ExitErr(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return nil
}

// isZombieLinux reports whether /proc/<pid>/status shows state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
