package pipeline

import (
	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/process"
)

// Observer is told about lifecycle changes of the composition. Calls come
// from the goroutine driving the composition.
type Observer interface {
	OnProcessExit(pipeline *Pipeline, instance int, proc *process.Instance, code int)
	OnInstanceFinished(pipeline *Pipeline, instance int)
	OnPipelineFinished(pipeline *Pipeline)
	OnStateBegin(pipeline *Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo)
	OnStateEnd(pipeline *Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo)
	OnProgress(pipeline *Pipeline, instance int, proc *process.Instance, progress logchannel.Progress)
}

// NopObserver ignores everything
type NopObserver struct{}

func (NopObserver) OnProcessExit(*Pipeline, int, *process.Instance, int) {}
func (NopObserver) OnInstanceFinished(*Pipeline, int)                     {}
func (NopObserver) OnPipelineFinished(*Pipeline)                          {}
func (NopObserver) OnStateBegin(*Pipeline, int, *process.Instance, process.State, process.StateInfo) {
}
func (NopObserver) OnStateEnd(*Pipeline, int, *process.Instance, process.State, process.StateInfo) {
}
func (NopObserver) OnProgress(*Pipeline, int, *process.Instance, logchannel.Progress) {}
