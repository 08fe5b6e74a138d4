package pipeline

import (
	"time"

	"github.com/core-tools/hsu-procman/pkg/config"
)

// TerminationGrace is how long a stopping pipeline may take before it is killed
const TerminationGrace = 30 * time.Second

// Pipeline schedules the instances of one configured pipeline over its
// parallel slots
type Pipeline struct {
	config config.PipelineConfig
	slots  []*Instance

	started  int
	finished int
	failed   int

	terminating      bool
	terminationStart time.Time
	finishReported   bool
}

func newPipeline(cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		config: cfg,
		slots:  make([]*Instance, cfg.Slots()),
	}
}

func (p *Pipeline) Identity() string {
	return p.config.Identity
}

func (p *Pipeline) Config() config.PipelineConfig {
	return p.config
}

// Started is the number of instance launches attempted so far, failed
// launches included
func (p *Pipeline) Started() int {
	return p.started
}

// Failed is the number of instances that could not be launched
func (p *Pipeline) Failed() int {
	return p.failed
}

// Finished is the number of instances that have finished
func (p *Pipeline) Finished() int {
	return p.finished
}

// Instances returns the instances occupying slots
func (p *Pipeline) Instances() []*Instance {
	result := make([]*Instance, 0, len(p.slots))
	for _, instance := range p.slots {
		if instance != nil {
			result = append(result, instance)
		}
	}
	return result
}

// KeepRestarting is true for pipelines with unbounded instances
func (p *Pipeline) KeepRestarting() bool {
	return p.config.Unbounded
}

func (p *Pipeline) needsNewInstance() bool {
	return p.config.Unbounded || p.started < p.config.Instances
}

// IsActive is true when at least one live instance is active
func (p *Pipeline) IsActive() bool {
	for _, instance := range p.slots {
		if instance != nil && !instance.IsFinished() && instance.IsActive() {
			return true
		}
	}
	return false
}

func (p *Pipeline) areInstancesFinished() bool {
	for _, instance := range p.slots {
		if instance != nil && !instance.IsFinished() {
			return false
		}
	}
	return true
}

// IsFinished is true when no instance is live and no more are needed
func (p *Pipeline) IsFinished() bool {
	return p.areInstancesFinished() && !p.needsNewInstance()
}

func (p *Pipeline) terminate() {
	for _, instance := range p.slots {
		if instance != nil {
			instance.Terminate()
		}
	}
}

func (p *Pipeline) kill() {
	for _, instance := range p.slots {
		if instance != nil {
			instance.Kill()
		}
	}
}

// manage runs one scheduling tick and reports whether the pipeline stays
// under management
func (p *Pipeline) manage(c *Composition) bool {
	if c.shouldBeRunning(p) {
		for i, instance := range p.slots {
			if instance != nil && instance.IsFinished() {
				c.retire(p, i)
			}
			if p.slots[i] == nil && p.needsNewInstance() && !c.isWaitingForOthers(p) {
				p.slots[i] = c.startInstance(p)
			}
		}
	} else {
		now := c.env.Clock.Now()
		if !p.terminating {
			p.terminating = true
			p.terminationStart = now
			c.logger.Infof("Terminating pipeline, identity: %s", p.Identity())
			p.terminate()
		} else if now.Sub(p.terminationStart) >= TerminationGrace {
			c.logger.Warnf("Killing pipeline after %v, identity: %s", TerminationGrace, p.Identity())
			p.kill()
			return false
		}
	}
	return !p.IsFinished()
}
