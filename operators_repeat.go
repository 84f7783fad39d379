// Repeat and resource operators for nono
// 重复订阅与资源绑定操作符
package nono

import (
	"sync/atomic"
)

// ============================================================================
// 重复
// ============================================================================

// Repeat 总共订阅times次，每次完成后重新订阅；任何错误立即投递
//
// times为0时返回立即完成的Nono。
func (n *Nono) Repeat(times int) *Nono {
	requireNonNegative(times, "times")
	switch times {
	case 0:
		return Complete()
	case 1:
		return n
	}
	return n.resubscribe("Repeat", func(err error, attempt int) (bool, error) {
		if err != nil {
			return false, err
		}
		return attempt < times, nil
	})
}

// RepeatUntil 每次完成后调用stop，返回false则重新订阅
func (n *Nono) RepeatUntil(stop func() bool) *Nono {
	requireFunc(stop == nil, "stop")
	return n.resubscribe("RepeatUntil", func(err error, _ int) (bool, error) {
		if err != nil {
			return false, err
		}
		var done bool
		if perr := SafeExecute(func() { done = stop() }); perr != nil {
			return false, perr
		}
		return !done, nil
	})
}

// ============================================================================
// 资源绑定
// ============================================================================

// Using 每次订阅时获取资源，用资源构建Nono，终止或取消时恰好释放一次资源
//
// eager为true时在投递终止事件之前释放资源，释放失败与主错误合并为*CompositeError；
// 为false时在终止事件之后释放，释放失败交给错误汇。
func Using[R any](resource func() (R, error), source func(R) *Nono, dispose func(R) error, eager bool) *Nono {
	requireFunc(resource == nil, "resource")
	requireFunc(source == nil, "source")
	requireFunc(dispose == nil, "dispose")

	return onAssembly(newNono("Using", func(s Subscriber) {
		var r R
		err := evaluate(func() error {
			var rerr error
			r, rerr = resource()
			return rerr
		})
		if err != nil {
			failImmediately(s, err)
			return
		}

		var inner *Nono
		err = SafeExecute(func() { inner = source(r) })
		if err == nil && inner == nil {
			err = NewInvalidArgumentError("source", "returned a nil Nono")
		}
		if err != nil {
			if derr := evaluate(func() error { return dispose(r) }); derr != nil {
				err = NewCompositeError(err, derr)
			}
			failImmediately(s, err)
			return
		}

		u := &usingSubscriber[R]{downstream: s, resource: r, dispose: dispose, eager: eager}
		s.OnSubscribe(u)
		if u.isDone() {
			return
		}
		inner.subscribe(u)
	}))
}

// usingSubscriber 持有资源直到终止或取消
type usingSubscriber[R any] struct {
	terminalGate
	downstream Subscriber
	resource   R
	dispose    func(R) error
	eager      bool

	upstream subscriptionSlot
	released atomic.Bool
}

func (u *usingSubscriber[R]) conforms() {}

func (u *usingSubscriber[R]) OnSubscribe(sub Subscription) {
	u.upstream.replace(sub)
}

func (u *usingSubscriber[R]) OnComplete() {
	if !u.terminate() {
		return
	}
	if !u.eager {
		u.downstream.OnComplete()
		u.releaseToSink()
		return
	}
	if err := u.release(); err != nil {
		u.downstream.OnError(err)
		return
	}
	u.downstream.OnComplete()
}

func (u *usingSubscriber[R]) OnError(err error) {
	if !u.terminate() {
		if !u.isCancelled() {
			ReportError(err)
		}
		return
	}
	if !u.eager {
		u.downstream.OnError(err)
		u.releaseToSink()
		return
	}
	if rerr := u.release(); rerr != nil {
		err = NewCompositeError(err, rerr)
	}
	u.downstream.OnError(err)
}

func (u *usingSubscriber[R]) Cancel() {
	if u.cancel() {
		u.upstream.cancel()
		u.releaseToSink()
	}
}

func (u *usingSubscriber[R]) IsCancelled() bool {
	return u.isCancelled()
}

// release 释放资源，只有第一次调用真正执行
func (u *usingSubscriber[R]) release() error {
	if !u.released.CompareAndSwap(false, true) {
		return nil
	}
	return evaluate(func() error { return u.dispose(u.resource) })
}

func (u *usingSubscriber[R]) releaseToSink() {
	if err := u.release(); err != nil {
		ReportError(err)
	}
}
