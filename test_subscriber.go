// Test subscriber for nono
// 测试订阅者：记录收到的所有事件，提供等待和断言方法
package nono

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestSubscriber 记录订阅、完成和错误事件的订阅者，同时也是可取消的订阅句柄
//
// 它不会过滤违反协议的事件，重复的终止事件会被原样记录，便于断言。
type TestSubscriber struct {
	mu            sync.Mutex
	subscriptions int
	completions   int
	errs          []error

	upstream  subscriptionSlot
	cancelled atomic.Bool
	done      chan struct{}
	once      sync.Once
}

// NewTestSubscriber 创建测试订阅者
func NewTestSubscriber() *TestSubscriber {
	return &TestSubscriber{done: make(chan struct{})}
}

// Test 使用新的测试订阅者订阅
func (n *Nono) Test() *TestSubscriber {
	ts := NewTestSubscriber()
	n.subscribe(ts)
	return ts
}

// TestCancelled 使用订阅前就已取消的测试订阅者订阅
func (n *Nono) TestCancelled() *TestSubscriber {
	ts := NewTestSubscriber()
	ts.Cancel()
	n.subscribe(ts)
	return ts
}

func (ts *TestSubscriber) conforms() {}

func (ts *TestSubscriber) OnSubscribe(sub Subscription) {
	ts.mu.Lock()
	ts.subscriptions++
	first := ts.subscriptions == 1
	ts.mu.Unlock()

	if !first {
		sub.Cancel()
		return
	}
	ts.upstream.replace(sub)
}

func (ts *TestSubscriber) OnComplete() {
	ts.mu.Lock()
	ts.completions++
	ts.mu.Unlock()
	ts.once.Do(func() { close(ts.done) })
}

func (ts *TestSubscriber) OnError(err error) {
	ts.mu.Lock()
	ts.errs = append(ts.errs, err)
	ts.mu.Unlock()
	ts.once.Do(func() { close(ts.done) })
}

// Cancel 取消上游
func (ts *TestSubscriber) Cancel() {
	ts.cancelled.Store(true)
	ts.upstream.cancel()
}

// IsCancelled 检查是否已取消
func (ts *TestSubscriber) IsCancelled() bool {
	return ts.cancelled.Load()
}

// ============================================================================
// 查询
// ============================================================================

// Await 等待终止事件，超时返回false
func (ts *TestSubscriber) Await(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ts.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done 收到第一个终止事件时关闭的通道
func (ts *TestSubscriber) Done() <-chan struct{} {
	return ts.done
}

// Signal 当前观察到的状态
func (ts *TestSubscriber) Signal() SignalKind {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	switch {
	case ts.completions > 0:
		return SignalComplete
	case len(ts.errs) > 0:
		return SignalFailed
	case ts.cancelled.Load():
		return SignalCancelled
	default:
		return SignalNone
	}
}

// Subscriptions 收到OnSubscribe的次数
func (ts *TestSubscriber) Subscriptions() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.subscriptions
}

// Completions 收到OnComplete的次数
func (ts *TestSubscriber) Completions() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.completions
}

// Errors 收到的所有错误
func (ts *TestSubscriber) Errors() []error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	out := make([]error, len(ts.errs))
	copy(out, ts.errs)
	return out
}

// ============================================================================
// 断言
// ============================================================================

// AssertSubscribed 断言恰好收到一次OnSubscribe
func (ts *TestSubscriber) AssertSubscribed(t testing.TB) *TestSubscriber {
	t.Helper()
	assert.Equal(t, 1, ts.Subscriptions(), "OnSubscribe次数")
	return ts
}

// AssertComplete 断言恰好完成一次
func (ts *TestSubscriber) AssertComplete(t testing.TB) *TestSubscriber {
	t.Helper()
	assert.Equal(t, 1, ts.Completions(), "OnComplete次数")
	return ts
}

// AssertNotComplete 断言没有完成
func (ts *TestSubscriber) AssertNotComplete(t testing.TB) *TestSubscriber {
	t.Helper()
	assert.Zero(t, ts.Completions(), "不应该完成")
	return ts
}

// AssertNoErrors 断言没有错误
func (ts *TestSubscriber) AssertNoErrors(t testing.TB) *TestSubscriber {
	t.Helper()
	assert.Empty(t, ts.Errors(), "不应该有错误")
	return ts
}

// AssertError 断言恰好收到一个错误且errors.Is(err, target)成立
func (ts *TestSubscriber) AssertError(t testing.TB, target error) *TestSubscriber {
	t.Helper()
	errs := ts.Errors()
	if assert.Len(t, errs, 1, "OnError次数") {
		assert.True(t, errors.Is(errs[0], target), "期望错误%v，实际得到%v", target, errs[0])
	}
	return ts
}

// AssertErrorKind 断言恰好收到一个指定种类的错误
func (ts *TestSubscriber) AssertErrorKind(t testing.TB, kind ErrorKind) *TestSubscriber {
	t.Helper()
	errs := ts.Errors()
	if assert.Len(t, errs, 1, "OnError次数") {
		assert.Equal(t, kind, KindOf(errs[0]), "错误种类: %v", errs[0])
	}
	return ts
}

// AssertNotTerminated 断言既没有完成也没有错误
func (ts *TestSubscriber) AssertNotTerminated(t testing.TB) *TestSubscriber {
	t.Helper()
	assert.Zero(t, ts.Completions(), "不应该完成")
	assert.Empty(t, ts.Errors(), "不应该有错误")
	return ts
}

// AssertResult err为nil时断言正常完成，否则断言以该错误失败且没有完成
func (ts *TestSubscriber) AssertResult(t testing.TB, err error) *TestSubscriber {
	t.Helper()
	if err == nil {
		return ts.AssertComplete(t).AssertNoErrors(t)
	}
	return ts.AssertNotComplete(t).AssertError(t, err)
}
