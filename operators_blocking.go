// Blocking consumers for nono
// 阻塞消费者实现，包含BlockingAwait, BlockingAwaitWithTimeout, BlockingSubscribe
package nono

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// 阻塞操作符实现
// ============================================================================

// BlockingAwait 阻塞等待终止，完成返回nil，失败返回错误
//
// 可同步求值的叶子节点直接在调用方goroutine上求值，不经过订阅。
func (n *Nono) BlockingAwait() error {
	if n.callable != nil {
		return evaluate(n.callable)
	}
	err, _ := n.await(context.Background())
	return err
}

// BlockingAwaitWithTimeout 阻塞等待终止，超时后取消订阅并返回*TimeoutError
func (n *Nono) BlockingAwaitWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		panic(NewInvalidArgumentError("timeout", fmt.Sprintf("must be positive (got %s)", timeout)))
	}
	if n.callable != nil {
		return evaluate(n.callable)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err, interrupted := n.await(ctx)
	if interrupted {
		return NewTimeoutError(fmt.Sprintf("nono: %s did not terminate within %s", n.name, timeout))
	}
	return err
}

// BlockingAwaitContext 阻塞等待终止，ctx结束时取消订阅并返回ctx.Err()
func (n *Nono) BlockingAwaitContext(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n.callable != nil {
		return evaluate(n.callable)
	}
	err, _ := n.await(ctx)
	return err
}

// BlockingSubscribe 阻塞等待终止，然后在调用方goroutine上执行对应的回调
//
// onError为nil时错误交给全局错误汇。
func (n *Nono) BlockingSubscribe(onComplete func(), onError func(error)) {
	err := n.BlockingAwait()
	switch {
	case err == nil && onComplete != nil:
		if perr := SafeExecute(onComplete); perr != nil {
			ReportError(perr)
		}
	case err != nil && onError != nil:
		if perr := SafeExecute(func() { onError(err) }); perr != nil {
			ReportError(NewCompositeError(err, perr))
		}
	case err != nil:
		ReportError(err)
	}
}

// await 订阅并等待终止事件或ctx结束；interrupted表示因ctx结束而取消了订阅
func (n *Nono) await(ctx context.Context) (err error, interrupted bool) {
	done := make(chan error, 1)
	sub := n.SubscribeWithCallbacks(
		func() { done <- nil },
		func(err error) { done <- err },
	)

	select {
	case err := <-done:
		return err, false
	case <-ctx.Done():
		sub.Cancel()
		// 取消与终止同时发生时以已经到达的终止事件为准
		select {
		case err := <-done:
			return err, false
		default:
			return ctx.Err(), true
		}
	}
}
