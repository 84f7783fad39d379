// Future adaptation for nono
// 将外部的异步结果适配为Nono：结果只关心成功或失败
package nono

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Future 接口
// ============================================================================

// Future 可等待的外部异步结果
type Future interface {
	// Await 阻塞直到结果可用或ctx结束
	Await(ctx context.Context) error
}

// FutureFunc 函数适配器
type FutureFunc func(ctx context.Context) error

// Await 调用函数本身
func (f FutureFunc) Await(ctx context.Context) error {
	return f(ctx)
}

// cancellableFuture 支持取消的Future，取消订阅时会调用Cancel
type cancellableFuture interface {
	Cancel()
}

// ============================================================================
// Promise 实现
// ============================================================================

// Promise 可以手动完成的Future
type Promise struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewPromise 创建未完成的Promise
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve 成功完成，返回false表示已经完成过
func (p *Promise) Resolve() bool {
	return p.settle(nil)
}

// Reject 以错误完成，返回false表示已经完成过
func (p *Promise) Reject(err error) bool {
	if err == nil {
		err = NewInvalidArgumentError("err", "must not be nil")
	}
	return p.settle(err)
}

// Cancel 以context.Canceled完成
func (p *Promise) Cancel() {
	p.settle(context.Canceled)
}

func (p *Promise) settle(err error) bool {
	settled := false
	p.once.Do(func() {
		p.err = err
		close(p.done)
		settled = true
	})
	return settled
}

// Done 完成时关闭的通道
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await 等待结果
func (p *Promise) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// 从Future创建
// ============================================================================

// FromFuture 在独立goroutine中等待future，结果映射为完成或错误
func FromFuture(future Future) *Nono {
	return fromFuture(future, 0)
}

// FromFutureWithTimeout 与FromFuture相同，但超过timeout未完成时以*TimeoutError失败
func FromFutureWithTimeout(future Future, timeout time.Duration) *Nono {
	if timeout <= 0 {
		panic(NewInvalidArgumentError("timeout", fmt.Sprintf("must be positive (got %s)", timeout)))
	}
	return fromFuture(future, timeout)
}

func fromFuture(future Future, timeout time.Duration) *Nono {
	if future == nil {
		panic(NewInvalidArgumentError("future", "must not be nil"))
	}
	canceller, _ := future.(cancellableFuture)

	return onAssembly(newNono("FromFuture", func(s Subscriber) {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), timeout)
		} else {
			ctx, cancel = context.WithCancel(context.Background())
		}

		sub := newGateSubscription(func() {
			cancel()
			if canceller != nil {
				canceller.Cancel()
			}
		})
		s.OnSubscribe(sub)
		if sub.isDone() {
			cancel()
			return
		}

		// 超时由闸门直接投递，不依赖future自己观察ctx
		stopTimeout := func() bool { return true }
		if timeout > 0 {
			stopTimeout = context.AfterFunc(ctx, func() {
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return
				}
				if canceller != nil {
					canceller.Cancel()
				}
				sub.fail(s, NewTimeoutError(fmt.Sprintf("nono: future did not resolve within %s", timeout)))
			})
		}

		go func() {
			defer cancel()

			err := evaluate(func() error { return future.Await(ctx) })
			if !stopTimeout() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// 超时已经投递，迟到的结果丢弃
				return
			}
			if err == nil {
				sub.complete(s)
				return
			}
			sub.fail(s, err)
		}()
	}))
}
