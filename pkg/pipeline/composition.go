package pipeline

import (
	"strconv"
	"time"

	"github.com/core-tools/hsu-procman/pkg/clock"
	"github.com/core-tools/hsu-procman/pkg/config"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/expand"
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/process"
)

// Env carries the collaborators shared by every pipeline
type Env struct {
	Spawner  process.Spawner
	Expander *expand.Expander
	Clock    clock.Clock
	Logger   logging.Logger
}

// Composition is the set of pipelines under management. It is driven from a
// single goroutine and is not safe for concurrent use.
type Composition struct {
	env       Env
	logger    logging.Logger
	observer  Observer
	pipelines []*Pipeline

	processNumber  int
	launchFailures int
	stopped        bool
}

func New(configs []config.PipelineConfig, env Env) *Composition {
	if env.Clock == nil {
		env.Clock = clock.Real()
	}
	if env.Logger == nil {
		env.Logger = logging.NewNopLogger()
	}

	c := &Composition{
		env:      env,
		logger:   env.Logger,
		observer: NopObserver{},
	}
	for _, cfg := range configs {
		c.pipelines = append(c.pipelines, newPipeline(cfg))
	}
	return c
}

// SetObserver installs the observer notified of lifecycle changes
func (c *Composition) SetObserver(observer Observer) {
	if observer == nil {
		observer = NopObserver{}
	}
	c.observer = observer
}

// Pipelines returns the pipelines still under management
func (c *Composition) Pipelines() []*Pipeline {
	return c.pipelines
}

// NewProcessNumber returns the next log identity, starting at 1
func (c *Composition) NewProcessNumber() int {
	c.processNumber++
	return c.processNumber
}

// LaunchFailures is the number of instances that could not be launched,
// counted over every pipeline since the composition was created
func (c *Composition) LaunchFailures() int {
	return c.launchFailures
}

// Stop makes every pipeline wind down on the following ticks
func (c *Composition) Stop() {
	if !c.stopped {
		c.logger.Infof("Stopping composition, pipelines: %d", len(c.pipelines))
	}
	c.stopped = true
}

func (c *Composition) IsStopped() bool {
	return c.stopped
}

// Manage runs one scheduling tick over all pipelines and reports whether
// any of them is still under management
func (c *Composition) Manage() bool {
	for _, p := range c.pipelines {
		c.reportExits(p)
	}

	kept := make([]*Pipeline, 0, len(c.pipelines))
	var dropped []*Pipeline
	for _, p := range c.pipelines {
		if p.manage(c) {
			kept = append(kept, p)
		} else {
			dropped = append(dropped, p)
		}
	}
	c.pipelines = kept

	for _, p := range dropped {
		c.drop(p)
	}
	return len(c.pipelines) > 0
}

// HandleExit routes an exit observed by the reaper to the owning process
func (c *Composition) HandleExit(pid, code int) bool {
	for _, p := range c.pipelines {
		for _, instance := range p.slots {
			if instance != nil && instance.handleExit(pid, code) {
				c.reportExits(p)
				return true
			}
		}
	}
	return false
}

func (c *Composition) shouldBeRunning(p *Pipeline) bool {
	return !c.stopped && (c.isRequiredByOthers(p) || !p.KeepRestarting())
}

func (c *Composition) isRequiredByOthers(p *Pipeline) bool {
	for _, other := range c.pipelines {
		if p.config.IsRequiredBy(other.Identity()) {
			return true
		}
	}
	return false
}

// areRequirementsActive checks that every pipeline required by p is active
func (c *Composition) areRequirementsActive(p *Pipeline) bool {
	for _, other := range c.pipelines {
		if other.config.IsRequiredBy(p.Identity()) && !other.IsActive() {
			return false
		}
	}
	return true
}

func (c *Composition) isWaitingForOthers(p *Pipeline) bool {
	return !c.areRequirementsActive(p)
}

// startInstance spawns one process per command. A process number is taken
// only once its process has been spawned. On failure the processes already
// spawned are killed and abandoned, and the attempt still counts against
// the pipeline's instances.
func (c *Composition) startInstance(p *Pipeline) *Instance {
	instance := &Instance{index: p.started}
	p.started++

	fail := func(err error) *Instance {
		for _, proc := range instance.processes {
			_ = proc.Kill()
			proc.Abandon()
		}
		p.failed++
		c.launchFailures++
		c.logger.Errorf("Failed to start instance, pipeline: %s, instance: %d, error: %v",
			p.Identity(), instance.index, err)
		return nil
	}

	for _, command := range p.config.Commands {
		argv, err := c.env.Expander.Adjust(command, expand.InstanceInfo{Index: instance.index}, p.config.Variables)
		if err != nil {
			return fail(errors.NewLaunchError("failed to adjust command", err).WithContext("pipeline", p.Identity()))
		}
		number := c.processNumber + 1
		argv = append(argv, process.LogIdentityFlag, strconv.Itoa(number))

		proc, err := process.Start(c.env.Spawner, argv, c.env.Clock)
		if err != nil {
			return fail(errors.NewLaunchError("failed to start process", err).WithContext("pipeline", p.Identity()))
		}
		c.NewProcessNumber()
		c.logger.Debugf("Started process, pipeline: %s, number: %d, pid: %d, argv: %v",
			p.Identity(), number, proc.Pid(), argv)
		instance.processes = append(instance.processes, proc)
	}

	c.logger.Infof("Started instance, pipeline: %s, instance: %d, processes: %d",
		p.Identity(), instance.index, len(instance.processes))
	return instance
}

// reportExits tells the observer about newly finished processes, instances
// and the pipeline itself
func (c *Composition) reportExits(p *Pipeline) {
	for _, instance := range p.slots {
		if instance == nil {
			continue
		}
		c.reportInstance(p, instance)
	}
	if !p.finishReported && p.IsFinished() {
		p.finishReported = true
		c.logger.Infof("Pipeline finished, identity: %s, instances: %d", p.Identity(), p.finished)
		c.observer.OnPipelineFinished(p)
	}
}

func (c *Composition) reportInstance(p *Pipeline, instance *Instance) {
	for _, proc := range instance.processes {
		if !proc.IsFinished() {
			continue
		}
		if code, taken := proc.TakeExit(); taken {
			c.logger.Debugf("Process exited, pipeline: %s, number: %d, code: %d", p.Identity(), proc.Number(), code)
			c.observer.OnProcessExit(p, instance.index, proc, code)
		}
	}
	if !instance.reported && instance.IsFinished() {
		instance.reported = true
		p.finished++
		c.observer.OnInstanceFinished(p, instance.index)
	}
}

// retire frees a slot whose instance has finished. Siblings still alive are
// asked to terminate and recorded as abandoned.
func (c *Composition) retire(p *Pipeline, slot int) {
	instance := p.slots[slot]
	c.reportInstance(p, instance)
	for _, proc := range instance.processes {
		if !proc.IsFinished() {
			_ = proc.Terminate()
			proc.Abandon()
		}
	}
	c.reportInstance(p, instance)
	p.slots[slot] = nil
}

// drop releases a pipeline removed from management
func (c *Composition) drop(p *Pipeline) {
	for i, instance := range p.slots {
		if instance == nil {
			continue
		}
		for _, proc := range instance.processes {
			proc.Abandon()
		}
		c.reportInstance(p, instance)
		p.slots[i] = nil
	}
	if !p.finishReported && p.IsFinished() {
		p.finishReported = true
		c.observer.OnPipelineFinished(p)
	}
	c.logger.Infof("Pipeline released, identity: %s", p.Identity())
}

// ===== STATE ROUTING =====

func (c *Composition) forEachProcess(number int, fn func(p *Pipeline, instance *Instance, proc *process.Instance)) {
	for _, p := range c.pipelines {
		for _, instance := range p.slots {
			if instance == nil {
				continue
			}
			if proc := instance.findProcess(number); proc != nil {
				fn(p, instance, proc)
			}
		}
	}
}

// FindProcess returns the live process with the given log identity
func (c *Composition) FindProcess(number int) (*process.Instance, bool) {
	var found *process.Instance
	c.forEachProcess(number, func(_ *Pipeline, _ *Instance, proc *process.Instance) {
		found = proc
	})
	return found, found != nil
}

func (c *Composition) AddActiveState(number int, state process.State) {
	c.forEachProcess(number, func(_ *Pipeline, _ *Instance, proc *process.Instance) {
		proc.AddActiveState(state)
	})
}

func (c *Composition) BeginState(number int, state process.State, at time.Time) {
	c.forEachProcess(number, func(p *Pipeline, instance *Instance, proc *process.Instance) {
		info := proc.BeginState(state, at)
		c.observer.OnStateBegin(p, instance.index, proc, state, info)
	})
}

// EndState closes an open state; unknown states are ignored
func (c *Composition) EndState(number int, state process.State, at time.Time) {
	c.forEachProcess(number, func(p *Pipeline, instance *Instance, proc *process.Instance) {
		if info, found := proc.EndState(state, at); found {
			c.observer.OnStateEnd(p, instance.index, proc, state, info)
		}
	})
}

func (c *Composition) UpdateProgress(number int, progress logchannel.Progress) {
	c.forEachProcess(number, func(p *Pipeline, instance *Instance, proc *process.Instance) {
		proc.UpdateProgress(progress)
		c.observer.OnProgress(p, instance.index, proc, progress)
	})
}
