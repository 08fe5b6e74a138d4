package pipeline

import (
	"github.com/core-tools/hsu-procman/pkg/process"
)

// Instance is one run of a pipeline: processes started together, one per command
type Instance struct {
	index     int
	processes []*process.Instance
	reported  bool
}

// Index is the zero-based instance counter value the instance was started with
func (i *Instance) Index() int {
	return i.index
}

func (i *Instance) Processes() []*process.Instance {
	return i.processes
}

// Terminate asks only the leading process to stop
func (i *Instance) Terminate() {
	if len(i.processes) > 0 {
		_ = i.processes[0].Terminate()
	}
}

func (i *Instance) Kill() {
	for _, proc := range i.processes {
		_ = proc.Kill()
	}
}

func (i *Instance) IsRunning() bool {
	if len(i.processes) == 0 {
		return false
	}
	for _, proc := range i.processes {
		if !proc.IsRunning() {
			return false
		}
	}
	return true
}

// IsActive is true when every process is active
func (i *Instance) IsActive() bool {
	if len(i.processes) == 0 {
		return false
	}
	for _, proc := range i.processes {
		if !proc.IsActive() {
			return false
		}
	}
	return true
}

// IsFinished is true as soon as any process has finished
func (i *Instance) IsFinished() bool {
	if len(i.processes) == 0 {
		return true
	}
	finished := false
	for _, proc := range i.processes {
		// Poll every process so each exit is recorded
		if proc.IsFinished() {
			finished = true
		}
	}
	return finished
}

func (i *Instance) handleExit(pid, code int) bool {
	for _, proc := range i.processes {
		if proc.HandleExit(pid, code) {
			return true
		}
	}
	return false
}

func (i *Instance) findProcess(number int) *process.Instance {
	for _, proc := range i.processes {
		if proc.Number() == number {
			return proc
		}
	}
	return nil
}
