// Side effect operators for nono
// 副作用操作符实现，在订阅生命周期的各个阶段执行回调
package nono

import (
	"sync/atomic"
)

// lifecycle 生命周期回调集合，未设置的回调为nil
type lifecycle struct {
	onSubscribe    func(Subscription)
	onComplete     func()
	onError        func(error)
	onCancel       func()
	afterTerminate func()
	onFinally      func()
}

// peek 使用生命周期回调包装节点
func (n *Nono) peek(name string, hooks lifecycle) *Nono {
	return onAssembly(n.lift(name, func(downstream Subscriber) Subscriber {
		return &peekSubscriber{downstream: downstream, hooks: hooks}
	}))
}

// DoOnSubscribe 订阅时执行action，action panic时取消上游并以该错误失败
func (n *Nono) DoOnSubscribe(action func(Subscription)) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoOnSubscribe", lifecycle{onSubscribe: action})
}

// DoOnComplete 完成前执行action，action panic时改为以该错误失败
func (n *Nono) DoOnComplete(action func()) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoOnComplete", lifecycle{onComplete: action})
}

// DoOnError 失败前执行action，action panic时下游收到两个错误的组合
func (n *Nono) DoOnError(action func(error)) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoOnError", lifecycle{onError: action})
}

// DoOnCancel 下游取消时执行action
func (n *Nono) DoOnCancel(action func()) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoOnCancel", lifecycle{onCancel: action})
}

// DoAfterTerminate 终止事件投递后执行action，action panic交给错误汇
func (n *Nono) DoAfterTerminate(action func()) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoAfterTerminate", lifecycle{afterTerminate: action})
}

// DoFinally 终止事件投递后或取消后恰好执行一次action
func (n *Nono) DoFinally(action func()) *Nono {
	requireFunc(action == nil, "action")
	return n.peek("DoFinally", lifecycle{onFinally: action})
}

// peekSubscriber 在转发事件的同时执行生命周期回调
type peekSubscriber struct {
	terminalGate
	downstream Subscriber
	hooks      lifecycle

	upstream subscriptionSlot
	finally  atomic.Bool
}

func (p *peekSubscriber) conforms() {}

func (p *peekSubscriber) OnSubscribe(sub Subscription) {
	if p.hooks.onSubscribe != nil {
		if err := SafeExecute(func() { p.hooks.onSubscribe(sub) }); err != nil {
			sub.Cancel()
			p.upstream.cancel()
			p.terminate()
			p.downstream.OnSubscribe(p)
			p.downstream.OnError(err)
			return
		}
	}
	p.downstream.OnSubscribe(p)
	p.upstream.replace(sub)
}

func (p *peekSubscriber) OnComplete() {
	if !p.terminate() {
		return
	}
	if p.hooks.onComplete != nil {
		if err := SafeExecute(p.hooks.onComplete); err != nil {
			p.downstream.OnError(err)
			p.afterTerminal()
			return
		}
	}
	p.downstream.OnComplete()
	p.afterTerminal()
}

func (p *peekSubscriber) OnError(err error) {
	if !p.terminate() {
		if !p.isCancelled() {
			ReportError(err)
		}
		return
	}
	if p.hooks.onError != nil {
		if perr := SafeExecute(func() { p.hooks.onError(err) }); perr != nil {
			err = NewCompositeError(err, perr)
		}
	}
	p.downstream.OnError(err)
	p.afterTerminal()
}

func (p *peekSubscriber) afterTerminal() {
	p.runToSink(p.hooks.afterTerminate)
	p.runFinally()
}

func (p *peekSubscriber) Cancel() {
	if !p.cancel() {
		return
	}
	p.runToSink(p.hooks.onCancel)
	p.upstream.cancel()
	p.runFinally()
}

func (p *peekSubscriber) IsCancelled() bool {
	return p.isCancelled()
}

func (p *peekSubscriber) runFinally() {
	if p.hooks.onFinally != nil && p.finally.CompareAndSwap(false, true) {
		p.runToSink(p.hooks.onFinally)
	}
}

// runToSink 终止之后的回调没有下游可以通知，panic交给错误汇
func (p *peekSubscriber) runToSink(action func()) {
	if action == nil {
		return
	}
	if err := SafeExecute(action); err != nil {
		ReportError(err)
	}
}
