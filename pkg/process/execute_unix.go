//go:build !windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// setupProcessAttributes puts the child into a new process group that can
// be signalled as a whole
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

type osChild struct {
	cmd *exec.Cmd
}

func newOSChild(cmd *exec.Cmd) *osChild {
	return &osChild{cmd: cmd}
}

func (c *osChild) Pid() int {
	return c.cmd.Process.Pid
}

func (c *osChild) Terminate() error {
	return signalGroup(c.Pid(), unix.SIGTERM)
}

func (c *osChild) Kill() error {
	return signalGroup(c.Pid(), unix.SIGKILL)
}

// Poll returns "not yet" when the child was already reaped elsewhere,
// the reaper then delivers its exit code
func (c *osChild) Poll() (int, bool) {
	var status unix.WaitStatus
	pid, err := unix.Wait4(c.Pid(), &status, unix.WNOHANG, nil)
	if err != nil || pid != c.Pid() {
		return 0, false
	}
	return exitCode(status), true
}

// signalGroup sends sig to the process group led by pid
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err != nil && err != unix.ESRCH {
		return errors.NewProcessError("failed to signal process group", err).
			WithContext("pid", pid).
			WithContext("signal", sig.String())
	}
	return nil
}

func exitCode(status unix.WaitStatus) int {
	if status.Signaled() {
		return -int(status.Signal())
	}
	return status.ExitStatus()
}
