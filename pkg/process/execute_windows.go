//go:build windows

package process

import (
	"os/exec"
	"sync"
	"syscall"
)

// setupProcessAttributes isolates the child in its own process group so it
// can receive Ctrl+Break without affecting the supervisor
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

type osChild struct {
	cmd *exec.Cmd

	mutex    sync.Mutex
	code     int
	finished bool
}

// newOSChild waits in the background, Windows has no SIGCHLD to reap on
func newOSChild(cmd *exec.Cmd) *osChild {
	c := &osChild{cmd: cmd}
	go func() {
		cmd.Wait()
		c.mutex.Lock()
		c.code = cmd.ProcessState.ExitCode()
		c.finished = true
		c.mutex.Unlock()
	}()
	return c
}

func (c *osChild) Pid() int {
	return c.cmd.Process.Pid
}

func (c *osChild) Terminate() error {
	return sendCtrlBreak(c.Pid())
}

func (c *osChild) Kill() error {
	return c.cmd.Process.Kill()
}

func (c *osChild) Poll() (int, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.code, c.finished
}
