// Scheduling operator tests
// 调度操作符测试
package nono

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeOn(t *testing.T) {
	t.Run("订阅在调度器上执行", func(t *testing.T) {
		sched := NewTestScheduler()
		p := newProbe("p")
		ts := p.node.SubscribeOn(sched).Test()

		ts.AssertSubscribed(t)
		assert.Zero(t, p.subscriptions())

		sched.TriggerActions()
		assert.Equal(t, 1, p.subscriptions())
		p.last().complete()
		ts.AssertResult(t, nil)
	})

	t.Run("执行前取消则不订阅", func(t *testing.T) {
		sched := NewTestScheduler()
		p := newProbe("p")
		ts := p.node.SubscribeOn(sched).Test()

		ts.Cancel()
		sched.TriggerActions()
		assert.Zero(t, p.subscriptions())
	})

	t.Run("取消传播到上游", func(t *testing.T) {
		sched := NewTestScheduler()
		p := newProbe("p")
		ts := p.node.SubscribeOn(sched).Test()

		sched.TriggerActions()
		ts.Cancel()
		assert.EqualValues(t, 1, p.last().cancels.Load())
	})

	t.Run("新goroutine", func(t *testing.T) {
		ts := Complete().SubscribeOn(NewThreadScheduler).Test()
		require.True(t, ts.Await(time.Second))
		ts.AssertResult(t, nil)
	})
}

func TestObserveOn(t *testing.T) {
	t.Run("终止事件在调度器上投递", func(t *testing.T) {
		boom := errors.New("boom")
		sched := NewTestScheduler()
		ts := Error(boom).ObserveOn(sched).Test()

		ts.AssertNotTerminated(t)
		sched.TriggerActions()
		ts.AssertResult(t, boom)
	})

	t.Run("取消撤销投递", func(t *testing.T) {
		sched := NewTestScheduler()
		ts := Complete().ObserveOn(sched).Test()

		ts.Cancel()
		sched.TriggerActions()
		ts.AssertNotTerminated(t)
	})

	t.Run("串行调度器", func(t *testing.T) {
		ts := Complete().ObserveOn(NewSerialScheduler()).Test()
		require.True(t, ts.Await(time.Second))
		ts.AssertResult(t, nil)
	})
}
