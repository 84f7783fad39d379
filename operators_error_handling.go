// Error handling operators for nono
// 错误处理操作符实现，包含MapError, OnErrorComplete, OnErrorResumeNext, Retry等
package nono

import (
	"sync/atomic"
)

// ============================================================================
// 错误转换
// ============================================================================

// MapError 使用mapper转换错误后再转发
//
// mapper panic或返回nil时，下游收到原错误与mapper失败的组合错误，两个错误都不会丢失。
func (n *Nono) MapError(mapper func(error) error) *Nono {
	requireFunc(mapper == nil, "mapper")
	return onAssembly(n.lift("MapError", func(downstream Subscriber) Subscriber {
		return &mapErrorSubscriber{passThrough: passThrough{downstream: downstream}, mapper: mapper}
	}))
}

type mapErrorSubscriber struct {
	passThrough
	mapper func(error) error
}

func (s *mapErrorSubscriber) OnError(err error) {
	var mapped error
	if perr := SafeExecute(func() { mapped = s.mapper(err) }); perr != nil {
		s.downstream.OnError(NewCompositeError(err, perr))
		return
	}
	if mapped == nil {
		s.downstream.OnError(NewCompositeError(err, NewInvalidArgumentError("mapper", "returned a nil error")))
		return
	}
	s.downstream.OnError(mapped)
}

// OnErrorComplete 将任何错误转换为完成
func (n *Nono) OnErrorComplete() *Nono {
	return onAssembly(n.lift("OnErrorComplete", func(downstream Subscriber) Subscriber {
		return &onErrorCompleteSubscriber{passThrough: passThrough{downstream: downstream}}
	}))
}

// OnErrorCompleteWhen 只有predicate返回true的错误被转换为完成
func (n *Nono) OnErrorCompleteWhen(predicate func(error) bool) *Nono {
	requireFunc(predicate == nil, "predicate")
	return onAssembly(n.lift("OnErrorComplete", func(downstream Subscriber) Subscriber {
		return &onErrorCompleteSubscriber{passThrough: passThrough{downstream: downstream}, predicate: predicate}
	}))
}

type onErrorCompleteSubscriber struct {
	passThrough
	predicate func(error) bool
}

func (s *onErrorCompleteSubscriber) OnError(err error) {
	if s.predicate == nil {
		s.downstream.OnComplete()
		return
	}

	var swallow bool
	if perr := SafeExecute(func() { swallow = s.predicate(err) }); perr != nil {
		s.downstream.OnError(NewCompositeError(err, perr))
		return
	}
	if swallow {
		s.downstream.OnComplete()
		return
	}
	s.downstream.OnError(err)
}

// ============================================================================
// 错误恢复
// ============================================================================

// OnErrorResumeNext 发生错误时切换到handler返回的Nono
func (n *Nono) OnErrorResumeNext(handler func(error) *Nono) *Nono {
	requireFunc(handler == nil, "handler")
	parent := n
	return onAssembly(newNono("OnErrorResumeNext", func(s Subscriber) {
		r := &resumeSubscriber{downstream: s, handler: handler}
		s.OnSubscribe(r)
		if r.isDone() {
			return
		}
		parent.subscribe(r)
	}))
}

// resumeSubscriber 先订阅原始源，失败后在同一个订阅句柄下订阅备用源
type resumeSubscriber struct {
	terminalGate
	downstream Subscriber
	handler    func(error) *Nono
	upstream   subscriptionSlot
	resumed    atomic.Bool
}

func (r *resumeSubscriber) conforms() {}

func (r *resumeSubscriber) OnSubscribe(sub Subscription) {
	r.upstream.replace(sub)
}

func (r *resumeSubscriber) OnComplete() {
	if r.terminate() {
		r.downstream.OnComplete()
	}
}

func (r *resumeSubscriber) OnError(err error) {
	if r.isDone() {
		if !r.isCancelled() {
			ReportError(err)
		}
		return
	}
	if !r.resumed.CompareAndSwap(false, true) {
		r.fail(err)
		return
	}

	var fallback *Nono
	perr := SafeExecute(func() { fallback = r.handler(err) })
	if perr == nil && fallback == nil {
		perr = NewInvalidArgumentError("handler", "returned a nil Nono")
	}
	if perr != nil {
		r.fail(NewCompositeError(err, perr))
		return
	}
	fallback.subscribe(r)
}

func (r *resumeSubscriber) fail(err error) {
	if r.terminate() {
		r.downstream.OnError(err)
	}
}

func (r *resumeSubscriber) Cancel() {
	if r.cancel() {
		r.upstream.cancel()
	}
}

func (r *resumeSubscriber) IsCancelled() bool {
	return r.isCancelled()
}

// ============================================================================
// 重试
// ============================================================================

// Retry 失败时重新订阅，最多重试times次，重试耗尽后投递最后一个错误
func (n *Nono) Retry(times int) *Nono {
	requireNonNegative(times, "times")
	return n.resubscribe("Retry", func(err error, attempt int) (bool, error) {
		if err == nil {
			return false, nil
		}
		return attempt <= times, err
	})
}

// RetryWhile 失败时调用predicate，返回true则重新订阅；attempt从1开始
func (n *Nono) RetryWhile(predicate func(err error, attempt int) bool) *Nono {
	requireFunc(predicate == nil, "predicate")
	return n.resubscribe("RetryWhile", func(err error, attempt int) (bool, error) {
		if err == nil {
			return false, nil
		}
		var again bool
		if perr := SafeExecute(func() { again = predicate(err, attempt) }); perr != nil {
			return false, NewCompositeError(err, perr)
		}
		return again, err
	})
}

// resubscribe 每次终止后由decide决定是否重新订阅
//
// decide收到本次终止的错误（完成时为nil）和已终止的次数，返回是否重新订阅以及
// 不再订阅时要投递的终止结果。
func (n *Nono) resubscribe(name string, decide func(err error, attempt int) (again bool, final error)) *Nono {
	parent := n
	return onAssembly(newNono(name, func(s Subscriber) {
		r := &resubscribeSubscriber{downstream: s, source: parent, decide: decide}
		s.OnSubscribe(r)
		r.subscribeNext()
	}))
}

// resubscribeSubscriber 迭代地重新订阅，同步终止的源不会造成递归
type resubscribeSubscriber struct {
	terminalGate
	downstream Subscriber
	source     *Nono
	decide     func(error, int) (bool, error)

	upstream subscriptionSlot
	wip      atomic.Int32
	attempts atomic.Int64
}

func (r *resubscribeSubscriber) conforms() {}

func (r *resubscribeSubscriber) subscribeNext() {
	if r.wip.Add(1) != 1 {
		return
	}

	missed := int32(1)
	for {
		if r.isDone() {
			return
		}
		r.source.subscribe(r)

		missed = r.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (r *resubscribeSubscriber) OnSubscribe(sub Subscription) {
	r.upstream.replace(sub)
}

func (r *resubscribeSubscriber) OnComplete() {
	r.terminated(nil)
}

func (r *resubscribeSubscriber) OnError(err error) {
	r.terminated(err)
}

func (r *resubscribeSubscriber) terminated(err error) {
	if r.isDone() {
		return
	}

	attempt := int(r.attempts.Add(1))
	again, final := r.decide(err, attempt)
	if again {
		r.subscribeNext()
		return
	}
	if r.terminate() {
		deliverTerminal(r.downstream, final)
	}
}

func (r *resubscribeSubscriber) Cancel() {
	if r.cancel() {
		r.upstream.cancel()
	}
}

func (r *resubscribeSubscriber) IsCancelled() bool {
	return r.isCancelled()
}
