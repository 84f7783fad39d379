// Error handling operator tests
// 错误处理操作符测试
package nono

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	boom := errors.New("boom")

	t.Run("转换错误", func(t *testing.T) {
		wrapped := errors.New("wrapped")
		Error(boom).MapError(func(err error) error {
			assert.Same(t, boom, err)
			return wrapped
		}).Test().AssertResult(t, wrapped)
	})

	t.Run("完成不经过mapper", func(t *testing.T) {
		Complete().MapError(func(error) error {
			t.Error("完成时不应该调用mapper")
			return nil
		}).Test().AssertResult(t, nil)
	})

	t.Run("mapper返回nil", func(t *testing.T) {
		ts := Error(boom).MapError(func(error) error { return nil }).Test()
		ts.AssertErrorKind(t, KindComposite)
		assert.ErrorIs(t, ts.Errors()[0], boom)
	})

	t.Run("mapper panic保留原错误", func(t *testing.T) {
		ts := Error(boom).MapError(func(error) error { panic("mapper") }).Test()
		require.Len(t, ts.Errors(), 1)
		assert.ErrorIs(t, ts.Errors()[0], boom)

		var pe *PanicError
		assert.ErrorAs(t, ts.Errors()[0], &pe)
	})
}

func TestOnErrorComplete(t *testing.T) {
	boom := errors.New("boom")
	other := errors.New("other")

	Error(boom).OnErrorComplete().Test().AssertResult(t, nil)

	onlyBoom := func(err error) bool { return errors.Is(err, boom) }
	Error(boom).OnErrorCompleteWhen(onlyBoom).Test().AssertResult(t, nil)
	Error(other).OnErrorCompleteWhen(onlyBoom).Test().AssertResult(t, other)

	ts := Error(boom).OnErrorCompleteWhen(func(error) bool { panic("predicate") }).Test()
	ts.AssertErrorKind(t, KindComposite)
}

func TestOnErrorResumeNext(t *testing.T) {
	boom := errors.New("boom")

	t.Run("订阅时已取消不订阅上游", func(t *testing.T) {
		var subscribed atomic.Int32
		countingNono(&subscribed, Error(boom)).
			OnErrorResumeNext(func(error) *Nono { return Complete() }).
			TestCancelled().AssertNotTerminated(t)
		assert.Zero(t, subscribed.Load(), "上游不应该被订阅")
	})

	t.Run("切换到备用源", func(t *testing.T) {
		fallback := newProbe("fallback")
		ts := Error(boom).OnErrorResumeNext(func(err error) *Nono {
			assert.Same(t, boom, err)
			return fallback.node
		}).Test()

		ts.AssertNotTerminated(t)
		fallback.last().complete()
		ts.AssertSubscribed(t).AssertResult(t, nil)
	})

	t.Run("备用源失败不再恢复", func(t *testing.T) {
		second := errors.New("second")
		var calls atomic.Int32
		Error(boom).OnErrorResumeNext(func(error) *Nono {
			calls.Add(1)
			return Error(second)
		}).Test().AssertResult(t, second)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("handler返回nil", func(t *testing.T) {
		ts := Error(boom).OnErrorResumeNext(func(error) *Nono { return nil }).Test()
		ts.AssertErrorKind(t, KindComposite)
		assert.ErrorIs(t, ts.Errors()[0], boom)
	})

	t.Run("取消备用源", func(t *testing.T) {
		fallback := newProbe("fallback")
		ts := Error(boom).OnErrorResumeNext(func(error) *Nono { return fallback.node }).Test()
		ts.Cancel()

		assert.EqualValues(t, 1, fallback.last().cancels.Load())
		fallback.last().complete()
		ts.AssertNotTerminated(t)
	})

	t.Run("完成直接转发", func(t *testing.T) {
		Complete().OnErrorResumeNext(func(error) *Nono {
			t.Error("不应该调用handler")
			return Complete()
		}).Test().AssertResult(t, nil)
	})
}

func TestRetry(t *testing.T) {
	boom := errors.New("boom")

	t.Run("重试次数耗尽后投递错误", func(t *testing.T) {
		var subscriptions atomic.Int32
		countingNono(&subscriptions, Error(boom)).Retry(2).Test().AssertResult(t, boom)
		assert.EqualValues(t, 3, subscriptions.Load())
	})

	t.Run("重试成功", func(t *testing.T) {
		var attempts atomic.Int32
		FromAction(func() error {
			if attempts.Add(1) < 3 {
				return boom
			}
			return nil
		}).Retry(5).Test().AssertResult(t, nil)
		assert.EqualValues(t, 3, attempts.Load())
	})

	t.Run("Retry(0)不重试", func(t *testing.T) {
		var subscriptions atomic.Int32
		countingNono(&subscriptions, Error(boom)).Retry(0).Test().AssertResult(t, boom)
		assert.EqualValues(t, 1, subscriptions.Load())
	})

	t.Run("大量同步重试不会栈溢出", func(t *testing.T) {
		var subscriptions atomic.Int32
		countingNono(&subscriptions, Error(boom)).Retry(100000).Test().AssertResult(t, boom)
		assert.EqualValues(t, 100001, subscriptions.Load())
	})

	t.Run("RetryWhile", func(t *testing.T) {
		var seen []int
		Error(boom).RetryWhile(func(err error, attempt int) bool {
			seen = append(seen, attempt)
			return attempt < 3
		}).Test().AssertResult(t, boom)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("RetryWhile predicate panic", func(t *testing.T) {
		ts := Error(boom).RetryWhile(func(error, int) bool { panic("predicate") }).Test()
		ts.AssertErrorKind(t, KindComposite)
	})

	t.Run("取消当前订阅且不再重试", func(t *testing.T) {
		p := newProbe("p")
		ts := p.node.Retry(3).Test()
		ts.Cancel()

		assert.EqualValues(t, 1, p.last().cancels.Load())
		p.last().fail(boom)
		assert.Equal(t, 1, p.subscriptions())
		ts.AssertNotTerminated(t)
	})

	t.Run("负数panic", func(t *testing.T) {
		assert.Panics(t, func() { Complete().Retry(-1) })
	})
}
