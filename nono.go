// Nono node type and the subscription entry points
// Nono节点：不可变、可重复订阅的工作描述，构建时不产生副作用
package nono

import (
	"sync/atomic"
)

// ============================================================================
// Nono 核心类型
// ============================================================================

// Nono 只发射终止信号（完成或错误）的异步原语
//
// 节点构建后不可变，每次订阅都会重新执行它描述的工作。
type Nono struct {
	name   string
	source func(s Subscriber)
	// callable 非nil表示节点可以在调用方goroutine上同步求值，构建时确定
	callable func() error
}

// newNono 创建节点，不经过组装钩子
func newNono(name string, source func(s Subscriber)) *Nono {
	return &Nono{name: name, source: source}
}

// newCallableNono 创建带有同步求值能力的叶子节点
func newCallableNono(name string, call func() error) *Nono {
	n := newNono(name, func(s Subscriber) {
		sub := newGateSubscription(nil)
		s.OnSubscribe(sub)
		if sub.isDone() {
			return
		}
		if err := evaluate(call); err != nil {
			sub.fail(s, err)
			return
		}
		sub.complete(s)
	})
	n.callable = call
	return n
}

// evaluate 执行用户函数，返回的错误和panic都作为结果错误
func evaluate(call func() error) error {
	var result error
	if err := SafeExecute(func() { result = call() }); err != nil {
		return err
	}
	return result
}

// Name 返回节点的操作符名称
func (n *Nono) Name() string {
	return n.name
}

// ============================================================================
// 订阅入口
// ============================================================================

// conformingSubscriber 包内实现的订阅者，它们自己遵守终止协议，不需要严格包装
type conformingSubscriber interface {
	conforms()
}

// Subscribe 使用订阅者订阅，开始执行节点描述的工作
//
// 外部订阅者会被包装为严格订阅者：重复的OnSubscribe、终止前未订阅、重复终止都会作为
// ProtocolViolationError报告给全局错误汇，终止回调中的panic也会交给错误汇。
func (n *Nono) Subscribe(s Subscriber) {
	if s == nil {
		panic(NewInvalidArgumentError("subscriber", "must not be nil"))
	}
	if _, ok := s.(conformingSubscriber); !ok {
		s = newStrictSubscriber(s)
	}
	n.subscribe(s)
}

// subscribe 内部订阅入口，节点自身逃逸出的panic视为协议违规
func (n *Nono) subscribe(s Subscriber) {
	defer func() {
		if r := recover(); r != nil {
			err, severity := Classify(r)
			if severity == Fatal {
				panic(r)
			}
			panic(&ProtocolViolationError{
				Message: "subscribe of " + n.name + " panicked",
				Cause:   err,
			})
		}
	}()

	n.source(s)
}

// SubscribeWithCallbacks 使用回调函数订阅，返回可取消的订阅句柄
// onError为nil时错误交给全局错误汇
func (n *Nono) SubscribeWithCallbacks(onComplete func(), onError func(error)) Subscription {
	cs := &callbackSubscriber{onComplete: onComplete, onError: onError}
	n.subscribe(cs)
	return cs
}

// SubscribeWith 订阅并返回同一个订阅者，便于链式使用
func SubscribeWith[S Subscriber](n *Nono, s S) S {
	n.Subscribe(s)
	return s
}

// ============================================================================
// 严格订阅者
// ============================================================================

// strictSubscriber 检查外部订阅者收到的事件序列是否符合协议
type strictSubscriber struct {
	actual     Subscriber
	subscribed atomic.Bool
	done       atomic.Bool
}

func newStrictSubscriber(actual Subscriber) *strictSubscriber {
	return &strictSubscriber{actual: actual}
}

func (s *strictSubscriber) conforms() {}

func (s *strictSubscriber) OnSubscribe(sub Subscription) {
	if sub == nil {
		ReportError(&ProtocolViolationError{Message: "OnSubscribe received a nil subscription"})
		return
	}
	if !s.subscribed.CompareAndSwap(false, true) {
		sub.Cancel()
		ReportError(&ProtocolViolationError{Message: "OnSubscribe called more than once"})
		return
	}
	if err := SafeExecute(func() { s.actual.OnSubscribe(sub) }); err != nil {
		s.done.Store(true)
		sub.Cancel()
		ReportError(err)
	}
}

func (s *strictSubscriber) OnComplete() {
	if !s.subscribed.Load() {
		ReportError(&ProtocolViolationError{Message: "OnComplete before OnSubscribe"})
		return
	}
	if !s.done.CompareAndSwap(false, true) {
		ReportError(&ProtocolViolationError{Message: "OnComplete after a terminal event"})
		return
	}
	if err := SafeExecute(s.actual.OnComplete); err != nil {
		ReportError(err)
	}
}

func (s *strictSubscriber) OnError(err error) {
	if err == nil {
		err = &ProtocolViolationError{Message: "OnError called with a nil error"}
	}
	if !s.subscribed.Load() {
		ReportError(&ProtocolViolationError{Message: "OnError before OnSubscribe", Cause: err})
		return
	}
	if !s.done.CompareAndSwap(false, true) {
		ReportError(err)
		return
	}
	if perr := SafeExecute(func() { s.actual.OnError(err) }); perr != nil {
		ReportError(NewCompositeError(err, perr))
	}
}

// ============================================================================
// 回调订阅者
// ============================================================================

// callbackSubscriber 回调订阅者，同时作为返回给调用方的订阅句柄
type callbackSubscriber struct {
	gate       terminalGate
	upstream   subscriptionSlot
	onComplete func()
	onError    func(error)
}

func (c *callbackSubscriber) conforms() {}

func (c *callbackSubscriber) OnSubscribe(sub Subscription) {
	c.upstream.replace(sub)
}

func (c *callbackSubscriber) OnComplete() {
	if !c.gate.terminate() {
		return
	}
	if c.onComplete == nil {
		return
	}
	if err := SafeExecute(c.onComplete); err != nil {
		ReportError(err)
	}
}

func (c *callbackSubscriber) OnError(err error) {
	if !c.gate.terminate() {
		if !c.gate.isCancelled() {
			ReportError(err)
		}
		return
	}
	if c.onError == nil {
		ReportError(err)
		return
	}
	if perr := SafeExecute(func() { c.onError(err) }); perr != nil {
		ReportError(NewCompositeError(err, perr))
	}
}

// Cancel 取消订阅
func (c *callbackSubscriber) Cancel() {
	if c.gate.cancel() {
		c.upstream.cancel()
	}
}

// IsCancelled 检查是否已取消
func (c *callbackSubscriber) IsCancelled() bool {
	return c.gate.isCancelled()
}

// ============================================================================
// 组装类操作符
// ============================================================================

// Lift 使用lifter将下游订阅者转换为上游订阅者，实现自定义操作符
func (n *Nono) Lift(lifter func(downstream Subscriber) Subscriber) *Nono {
	requireFunc(lifter == nil, "lifter")
	return onAssembly(n.lift("Lift", lifter))
}

// Decorate 与Lift相同但不经过组装钩子，供组装钩子内部包装节点使用
func (n *Nono) Decorate(lifter func(downstream Subscriber) Subscriber) *Nono {
	requireFunc(lifter == nil, "lifter")
	return n.lift(n.name, lifter)
}

func (n *Nono) lift(name string, lifter func(Subscriber) Subscriber) *Nono {
	parent := n
	return newNono(name, func(s Subscriber) {
		var upstream Subscriber
		err := SafeExecute(func() { upstream = lifter(s) })
		if err == nil && upstream == nil {
			err = NewInvalidArgumentError("lifter", "returned a nil subscriber")
		}
		if err != nil {
			failImmediately(s, err)
			return
		}
		if _, ok := upstream.(conformingSubscriber); !ok {
			upstream = newStrictSubscriber(upstream)
		}
		parent.subscribe(upstream)
	})
}

// Compose 对节点应用转换函数，用于复用操作符链
func (n *Nono) Compose(composer func(*Nono) *Nono) *Nono {
	requireFunc(composer == nil, "composer")
	result := composer(n)
	if result == nil {
		panic(NewInvalidArgumentError("composer", "returned a nil Nono"))
	}
	return result
}

// To 使用转换函数将节点转换为任意类型
func To[R any](n *Nono, converter func(*Nono) R) R {
	requireNonNil(n, "source")
	requireFunc(converter == nil, "converter")
	return converter(n)
}

// failImmediately 向尚未收到OnSubscribe的订阅者投递错误
func failImmediately(s Subscriber, err error) {
	sub := newGateSubscription(nil)
	s.OnSubscribe(sub)
	sub.fail(s, err)
}

// completeImmediately 向尚未收到OnSubscribe的订阅者投递完成
func completeImmediately(s Subscriber) {
	sub := newGateSubscription(nil)
	s.OnSubscribe(sub)
	sub.complete(s)
}

// ============================================================================
// 转发订阅者
// ============================================================================

// passThrough 把所有事件原样转发给下游，操作符嵌入它后只覆盖关心的回调
type passThrough struct {
	downstream Subscriber
}

func (p *passThrough) conforms() {}

func (p *passThrough) OnSubscribe(s Subscription) {
	p.downstream.OnSubscribe(s)
}

func (p *passThrough) OnComplete() {
	p.downstream.OnComplete()
}

func (p *passThrough) OnError(err error) {
	p.downstream.OnError(err)
}
