package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-procman/pkg/logchannel"
	"github.com/core-tools/hsu-procman/pkg/pipeline"
	"github.com/core-tools/hsu-procman/pkg/process"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) OnProcessExit(p *pipeline.Pipeline, instance int, proc *process.Instance, code int) {
	m.Called(p.Identity(), instance, proc.Number(), code)
}

func (m *mockObserver) OnInstanceFinished(p *pipeline.Pipeline, instance int) {
	m.Called(p.Identity(), instance)
}

func (m *mockObserver) OnPipelineFinished(p *pipeline.Pipeline) {
	m.Called(p.Identity())
}

func (m *mockObserver) OnStateBegin(p *pipeline.Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo) {
	m.Called(p.Identity(), state)
}

func (m *mockObserver) OnStateEnd(p *pipeline.Pipeline, instance int, proc *process.Instance, state process.State, info process.StateInfo) {
	m.Called(p.Identity(), state)
}

func (m *mockObserver) OnProgress(p *pipeline.Pipeline, instance int, proc *process.Instance, progress logchannel.Progress) {
	m.Called(p.Identity(), progress)
}

func TestObserver_NotificationOrder(t *testing.T) {
	f := newFixture(t, bounded("worker", 2, []string{"worker"}))
	observer := &mockObserver{}
	f.comp.SetObserver(observer)

	state := process.State{Source: "App", Tag: "busy"}
	observer.On("OnStateBegin", "worker", state).Once()
	observer.On("OnProcessExit", "worker", 0, 1, 0).Once()
	observer.On("OnInstanceFinished", "worker", 0).Once()
	observer.On("OnProcessExit", "worker", 1, 2, 5).Once()
	observer.On("OnInstanceFinished", "worker", 1).Once()
	observer.On("OnPipelineFinished", "worker").Once()

	require.True(t, f.tick())
	f.comp.BeginState(1, state, f.clock.Now())
	f.spawner.Children()[0].Exit(0)

	require.True(t, f.tick())
	require.Len(t, f.spawner.Children(), 2)
	f.spawner.Children()[1].Exit(5)

	require.False(t, f.tick())
	observer.AssertExpectations(t)
}
