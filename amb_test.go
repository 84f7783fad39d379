// Amb operator tests
// 竞争操作符测试
package nono

import (
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmb(t *testing.T) {
	t.Run("没有源立即完成", func(t *testing.T) {
		Amb().Test().AssertResult(t, nil)
	})

	t.Run("单个源原样返回", func(t *testing.T) {
		n := Never()
		assert.Same(t, n, Amb(n))
	})

	t.Run("先终止的源获胜并取消其他源", func(t *testing.T) {
		sched := NewTestScheduler()
		fast := newProbe("fast")
		slow := newProbe("slow")

		ts := Amb(
			TimerOn(20*time.Millisecond, sched).AndThen(slow.node),
			TimerOn(10*time.Millisecond, sched).AndThen(fast.node),
		).Test()

		sched.AdvanceTimeBy(10 * time.Millisecond)
		require.NotNil(t, fast.last())
		fast.last().complete()

		ts.AssertResult(t, nil)
		assert.Zero(t, sched.Pending(), "慢的计时器应该被取消")
		assert.Zero(t, slow.subscriptions())
	})

	t.Run("10ms与20ms的计时器", func(t *testing.T) {
		sched := NewTestScheduler()
		ts := Amb(TimerOn(10*time.Millisecond, sched), TimerOn(20*time.Millisecond, sched)).Test()

		sched.AdvanceTimeBy(10 * time.Millisecond)
		ts.AssertComplete(t)
		assert.Zero(t, sched.Pending())
	})

	t.Run("错误也可以获胜", func(t *testing.T) {
		boom := errors.New("boom")
		a := newProbe("a")
		b := newProbe("b")

		ts := Amb(a.node, b.node).Test()
		b.last().fail(boom)

		ts.AssertResult(t, boom)
		assert.EqualValues(t, 1, a.last().cancels.Load())
		assert.Zero(t, b.last().cancels.Load(), "获胜者不应该被取消")
	})

	t.Run("失败者被取消后的错误被丢弃", func(t *testing.T) {
		sink := captureErrors(t)
		a := newProbe("a")
		b := newProbe("b")

		ts := Amb(a.node, b.node).Test()
		a.last().complete()
		b.last().fail(errors.New("loser"))

		ts.AssertResult(t, nil)
		assert.Empty(t, sink.Errors())
	})

	t.Run("同步终止时不再订阅后面的源", func(t *testing.T) {
		later := newProbe("later")
		Amb(Complete(), later.node).Test().AssertComplete(t)
		assert.Zero(t, later.subscriptions())
	})

	t.Run("下游取消传播到所有源", func(t *testing.T) {
		a := newProbe("a")
		b := newProbe("b")

		ts := Amb(a.node, b.node).Test()
		ts.Cancel()
		a.last().complete()

		ts.AssertNotTerminated(t)
		assert.EqualValues(t, 1, a.last().cancels.Load())
		assert.EqualValues(t, 1, b.last().cancels.Load())
	})

	t.Run("nil源panic", func(t *testing.T) {
		assert.Panics(t, func() { Amb(Never(), nil) })
	})

	t.Run("构建后修改切片不影响节点", func(t *testing.T) {
		sources := []*Nono{Never(), Never()}
		n := Amb(sources...)
		sources[0] = Complete()

		ts := n.Test()
		ts.AssertNotTerminated(t)
		ts.Cancel()
	})
}

func TestAmbIter(t *testing.T) {
	t.Run("空序列完成", func(t *testing.T) {
		AmbIter(slices.Values([]*Nono{})).Test().AssertResult(t, nil)
	})

	t.Run("nil元素失败", func(t *testing.T) {
		a := newProbe("a")
		ts := AmbIter(slices.Values([]*Nono{a.node, nil})).Test()

		ts.AssertErrorKind(t, KindInvalidArgument)
		assert.EqualValues(t, 1, a.last().cancels.Load())
	})

	t.Run("序列panic失败", func(t *testing.T) {
		var seq iter.Seq[*Nono] = func(yield func(*Nono) bool) {
			panic("seq")
		}
		ts := AmbIter(seq).Test()
		require.Len(t, ts.Errors(), 1)
	})

	t.Run("每次订阅重新遍历", func(t *testing.T) {
		calls := 0
		seq := func(yield func(*Nono) bool) {
			calls++
			yield(Complete())
		}
		n := AmbIter(seq)
		n.Test().AssertComplete(t)
		n.Test().AssertComplete(t)
		assert.Equal(t, 2, calls)
	})
}
