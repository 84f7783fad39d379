// Core protocol tests
// 资源管理、终止闸门与订阅槽测试
package nono

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeDisposable(t *testing.T) {
	t.Run("释放所有资源", func(t *testing.T) {
		cd := NewCompositeDisposable()
		var disposed atomic.Int32
		for range 3 {
			cd.Add(NewBaseDisposable(func() { disposed.Add(1) }))
		}
		assert.Equal(t, 3, cd.Len())

		cd.Dispose()
		cd.Dispose()
		assert.EqualValues(t, 3, disposed.Load())
		assert.True(t, cd.IsDisposed())
		assert.Zero(t, cd.Len())
	})

	t.Run("释放后添加立即释放", func(t *testing.T) {
		cd := NewCompositeDisposable()
		cd.Dispose()

		d := NewBaseDisposable(nil)
		assert.False(t, cd.Add(d))
		assert.True(t, d.IsDisposed())
	})

	t.Run("Delete不释放资源", func(t *testing.T) {
		cd := NewCompositeDisposable()
		d := NewBaseDisposable(nil)
		cd.Add(d)

		assert.True(t, cd.Delete(d))
		assert.False(t, cd.Delete(d))
		cd.Dispose()
		assert.False(t, d.IsDisposed())
	})
}

func TestTerminalGate(t *testing.T) {
	t.Run("终止与取消互斥", func(t *testing.T) {
		var g terminalGate
		assert.True(t, g.terminate())
		assert.False(t, g.terminate())
		assert.False(t, g.cancel())
		assert.True(t, g.isDone())
		assert.False(t, g.isCancelled())
	})

	t.Run("并发只有一个获胜者", func(t *testing.T) {
		for range 100 {
			var g terminalGate
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var won bool
					if i%2 == 0 {
						won = g.terminate()
					} else {
						won = g.cancel()
					}
					if won {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			require.EqualValues(t, 1, wins.Load(), "只能有一个获胜者")
		}
	})

	t.Run("gateSubscription取消后丢弃错误", func(t *testing.T) {
		sink := captureErrors(t)
		var onCancel atomic.Int32
		sub := newGateSubscription(func() { onCancel.Add(1) })
		ts := NewTestSubscriber()
		ts.OnSubscribe(sub)

		sub.Cancel()
		sub.Cancel()
		sub.fail(ts, errors.New("dropped"))
		sub.complete(ts)

		assert.EqualValues(t, 1, onCancel.Load())
		ts.AssertNotTerminated(t)
		assert.Empty(t, sink.Errors())
	})

	t.Run("gateSubscription终止后错误交给错误汇", func(t *testing.T) {
		sink := captureErrors(t)
		sub := newGateSubscription(nil)
		ts := NewTestSubscriber()
		ts.OnSubscribe(sub)

		sub.complete(ts)
		sub.fail(ts, errors.New("late"))

		ts.AssertComplete(t).AssertNoErrors(t)
		assert.Len(t, sink.Errors(), 1)
	})
}

func TestSubscriptionSlot(t *testing.T) {
	var slot subscriptionSlot
	first := newGateSubscription(nil)
	require.True(t, slot.replace(first))

	slot.cancel()
	assert.True(t, first.IsCancelled())
	assert.True(t, slot.isCancelled())

	second := newGateSubscription(nil)
	assert.False(t, slot.replace(second))
	assert.True(t, second.IsCancelled(), "取消后放入的订阅应该被立即取消")
}

func TestSerialDisposable(t *testing.T) {
	var sd serialDisposable
	first := NewBaseDisposable(nil)
	second := NewBaseDisposable(nil)

	assert.True(t, sd.set(first))
	assert.True(t, sd.set(second))
	assert.False(t, first.IsDisposed(), "替换不释放旧资源")

	sd.Dispose()
	assert.True(t, second.IsDisposed())
	assert.True(t, sd.IsDisposed())

	third := NewBaseDisposable(nil)
	assert.False(t, sd.set(third))
	assert.True(t, third.IsDisposed())
}

func TestSafeExecute(t *testing.T) {
	t.Run("正常执行", func(t *testing.T) {
		assert.NoError(t, SafeExecute(func() {}))
	})

	t.Run("panic转换为错误", func(t *testing.T) {
		err := SafeExecute(func() { panic("boom") })
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "boom", pe.Value)
		assert.NotEmpty(t, pe.Stack)
	})

	t.Run("error类型的panic原样返回", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Same(t, boom, SafeExecute(func() { panic(boom) }))
	})

	t.Run("致命panic重新抛出", func(t *testing.T) {
		violation := &ProtocolViolationError{Message: "fatal"}
		assert.PanicsWithValue(t, violation, func() {
			_ = SafeExecute(func() { panic(violation) })
		})
	})
}

func TestSignalKind(t *testing.T) {
	assert.Equal(t, "complete", SignalComplete.String())
	assert.Equal(t, "failed", SignalFailed.String())
	assert.Equal(t, "cancelled", SignalCancelled.String())
}
