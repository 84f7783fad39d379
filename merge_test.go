// Merge operator tests
// 合并操作符测试
package nono

import (
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Run("没有源立即完成", func(t *testing.T) {
		Merge().Test().AssertResult(t, nil)
		MergeDelayError().Test().AssertResult(t, nil)
	})

	t.Run("全部完成后才完成", func(t *testing.T) {
		a := newProbe("a")
		b := newProbe("b")

		ts := Merge(a.node, b.node).Test()
		assert.Equal(t, 1, a.subscriptions())
		assert.Equal(t, 1, b.subscriptions())

		b.last().complete()
		ts.AssertNotTerminated(t)
		a.last().complete()
		ts.AssertResult(t, nil)
	})

	t.Run("第一个错误取消其他源", func(t *testing.T) {
		boom := errors.New("boom")
		a := newProbe("a")
		b := newProbe("b")

		ts := Merge(a.node, b.node).Test()
		a.last().fail(boom)

		ts.AssertResult(t, boom)
		assert.EqualValues(t, 1, b.last().cancels.Load())
	})

	t.Run("被取消的源的后续错误被丢弃", func(t *testing.T) {
		sink := captureErrors(t)
		a := newProbe("a")
		b := newProbe("b")

		ts := Merge(a.node, b.node).Test()
		a.last().fail(errors.New("first"))
		b.last().fail(errors.New("second"))

		require.Len(t, ts.Errors(), 1)
		assert.Empty(t, sink.Errors())
	})

	t.Run("并发计时器", func(t *testing.T) {
		sched := NewTestScheduler()
		ts := Merge(
			TimerOn(30*time.Millisecond, sched),
			TimerOn(10*time.Millisecond, sched),
			TimerOn(20*time.Millisecond, sched),
		).Test()

		assert.Equal(t, 3, sched.Pending(), "所有源应该同时订阅")
		sched.AdvanceTimeBy(20 * time.Millisecond)
		ts.AssertNotTerminated(t)
		sched.AdvanceTimeBy(10 * time.Millisecond)
		ts.AssertResult(t, nil)
	})

	t.Run("取消所有源", func(t *testing.T) {
		a := newProbe("a")
		b := newProbe("b")

		ts := Merge(a.node, b.node).Test()
		ts.Cancel()

		assert.EqualValues(t, 1, a.last().cancels.Load())
		assert.EqualValues(t, 1, b.last().cancels.Load())
		ts.AssertNotTerminated(t)
	})
}

func TestMergeWithConcurrency(t *testing.T) {
	t.Run("并发数为1时顺序执行", func(t *testing.T) {
		a := newProbe("a")
		b := newProbe("b")
		c := newProbe("c")

		ts := MergeWithConcurrency(1, a.node, b.node, c.node).Test()
		assert.Equal(t, 1, a.subscriptions())
		assert.Zero(t, b.subscriptions())

		a.last().complete()
		assert.Equal(t, 1, b.subscriptions())
		assert.Zero(t, c.subscriptions())

		b.last().complete()
		c.last().complete()
		ts.AssertResult(t, nil)
	})

	t.Run("同时活跃的源不超过上限", func(t *testing.T) {
		var active, peak atomic.Int32
		sched := NewTestScheduler()
		source := func(d time.Duration) *Nono {
			return TimerOn(d, sched).
				DoOnSubscribe(func(Subscription) {
					n := active.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
				}).
				DoOnComplete(func() { active.Add(-1) })
		}

		ts := MergeWithConcurrency(2,
			source(10*time.Millisecond),
			source(20*time.Millisecond),
			source(5*time.Millisecond),
			source(5*time.Millisecond),
		).Test()

		sched.AdvanceTimeBy(time.Second)
		ts.AssertResult(t, nil)
		assert.EqualValues(t, 2, peak.Load())
	})

	t.Run("参数校验", func(t *testing.T) {
		assert.Panics(t, func() { MergeWithConcurrency(0, Never()) })
		assert.Panics(t, func() { Merge(Never(), nil) })
	})
}

func TestMergeDelayError(t *testing.T) {
	t.Run("等待所有源并合并错误", func(t *testing.T) {
		e1 := errors.New("e1")
		e2 := errors.New("e2")
		a := newProbe("a")

		ts := MergeDelayError(Error(e1), a.node, Error(e2)).Test()
		ts.AssertNotTerminated(t)
		assert.Zero(t, a.last().cancels.Load(), "延迟错误模式不取消其他源")

		a.last().complete()
		var composite *CompositeError
		require.Len(t, ts.Errors(), 1)
		require.ErrorAs(t, ts.Errors()[0], &composite)
		assert.Equal(t, []error{e1, e2}, composite.Errors())
	})

	t.Run("单个错误原样投递", func(t *testing.T) {
		boom := errors.New("boom")
		MergeDelayErrorWithConcurrency(1, Complete(), Error(boom), Complete()).Test().AssertResult(t, boom)
	})
}

func TestMergeIter(t *testing.T) {
	t.Run("无限序列遇到错误停止", func(t *testing.T) {
		boom := errors.New("boom")
		var pulled atomic.Int32
		seq := func(yield func(*Nono) bool) {
			for {
				n := pulled.Add(1)
				source := Complete()
				if n == 5 {
					source = Error(boom)
				}
				if !yield(source) {
					return
				}
			}
		}

		MergeIter(seq, 2).Test().AssertResult(t, boom)
		assert.EqualValues(t, 5, pulled.Load())
	})

	t.Run("槽位空出时才拉取", func(t *testing.T) {
		var pulled atomic.Int32
		seq := func(yield func(*Nono) bool) {
			for {
				pulled.Add(1)
				if !yield(Never()) {
					return
				}
			}
		}

		ts := MergeIter(seq, 3).Test()
		assert.EqualValues(t, 3, pulled.Load())
		ts.Cancel()
	})

	t.Run("延迟错误等待序列结束", func(t *testing.T) {
		e1 := errors.New("e1")
		ts := MergeIterDelayError(slices.Values([]*Nono{Complete(), Error(e1), Complete()}), 2).Test()
		ts.AssertResult(t, e1)
	})

	t.Run("nil元素", func(t *testing.T) {
		MergeIter(slices.Values([]*Nono{Complete(), nil}), 1).Test().AssertErrorKind(t, KindInvalidArgument)
	})
}
