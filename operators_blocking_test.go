// Blocking consumer tests
// 阻塞消费者测试
package nono

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingAwait(t *testing.T) {
	boom := errors.New("boom")

	t.Run("完成", func(t *testing.T) {
		assert.NoError(t, Timer(time.Millisecond).BlockingAwait())
	})

	t.Run("失败", func(t *testing.T) {
		assert.Same(t, boom, Error(boom).Delay(time.Millisecond).BlockingAwait())
	})

	t.Run("同步叶子直接求值", func(t *testing.T) {
		assert.NoError(t, Complete().BlockingAwait())
		assert.Same(t, boom, Error(boom).BlockingAwait())
	})
}

func TestBlockingAwaitWithTimeout(t *testing.T) {
	t.Run("超时取消订阅", func(t *testing.T) {
		var cancelled atomic.Bool
		err := Never().DoOnCancel(func() { cancelled.Store(true) }).BlockingAwaitWithTimeout(10 * time.Millisecond)

		var te *TimeoutError
		require.ErrorAs(t, err, &te)
		assert.True(t, cancelled.Load())
	})

	t.Run("超时前完成", func(t *testing.T) {
		assert.NoError(t, Timer(time.Millisecond).BlockingAwaitWithTimeout(time.Second))
	})

	t.Run("非正超时panic", func(t *testing.T) {
		assert.Panics(t, func() { _ = Never().BlockingAwaitWithTimeout(0) })
	})
}

func TestBlockingAwaitContext(t *testing.T) {
	t.Run("ctx取消", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		assert.ErrorIs(t, Never().BlockingAwaitContext(ctx), context.Canceled)
	})

	t.Run("已结束的ctx不订阅", func(t *testing.T) {
		var subscriptions atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := countingNono(&subscriptions, Never()).BlockingAwaitContext(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, subscriptions.Load())
	})

	t.Run("完成", func(t *testing.T) {
		assert.NoError(t, Timer(time.Millisecond).BlockingAwaitContext(context.Background()))
	})
}

func TestBlockingSubscribe(t *testing.T) {
	t.Run("在调用方执行完成回调", func(t *testing.T) {
		completed := false
		Timer(time.Millisecond).BlockingSubscribe(func() { completed = true }, nil)
		assert.True(t, completed)
	})

	t.Run("错误回调", func(t *testing.T) {
		boom := errors.New("boom")
		var got error
		Error(boom).BlockingSubscribe(nil, func(err error) { got = err })
		assert.Same(t, boom, got)
	})

	t.Run("没有错误回调时交给错误汇", func(t *testing.T) {
		sink := captureErrors(t)
		boom := errors.New("boom")
		Error(boom).BlockingSubscribe(nil, nil)
		require.Len(t, sink.Errors(), 1)
		assert.Same(t, boom, sink.Errors()[0])
	})
}
