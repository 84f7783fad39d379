// Time-based operators for nono
// 时间相关操作符实现，包含Delay, Timeout, DelaySubscription
package nono

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ============================================================================
// 延迟
// ============================================================================

// Delay 将上游的终止事件延迟delay后在Computation调度器上投递
func (n *Nono) Delay(delay time.Duration) *Nono {
	return n.DelayOn(delay, Computation())
}

// DelayOn 将上游的终止事件延迟delay后在指定调度器上投递，取消会取消等待中的计时任务
func (n *Nono) DelayOn(delay time.Duration, scheduler Scheduler) *Nono {
	requireScheduler(scheduler)
	if delay < 0 {
		delay = 0
	}
	return onAssembly(n.lift("Delay", func(downstream Subscriber) Subscriber {
		return &delaySubscriber{downstream: downstream, scheduler: scheduler, delay: delay}
	}))
}

type delaySubscriber struct {
	terminalGate
	downstream Subscriber
	scheduler  Scheduler
	delay      time.Duration

	upstream subscriptionSlot
	task     serialDisposable
}

func (d *delaySubscriber) conforms() {}

func (d *delaySubscriber) OnSubscribe(sub Subscription) {
	d.downstream.OnSubscribe(d)
	d.upstream.replace(sub)
}

func (d *delaySubscriber) OnComplete() {
	d.hold(nil)
}

func (d *delaySubscriber) OnError(err error) {
	d.hold(err)
}

// hold 保持终止事件直到计时结束
func (d *delaySubscriber) hold(err error) {
	if d.isDone() {
		if err != nil && !d.isCancelled() {
			ReportError(err)
		}
		return
	}
	d.task.set(d.scheduler.ScheduleWithDelay(func() {
		if d.terminate() {
			deliverTerminal(d.downstream, err)
		}
	}, d.delay))
}

func (d *delaySubscriber) Cancel() {
	if d.cancel() {
		d.upstream.cancel()
		d.task.Dispose()
	}
}

func (d *delaySubscriber) IsCancelled() bool {
	return d.isCancelled()
}

// DelaySubscription 延迟delay后才订阅上游
func (n *Nono) DelaySubscription(delay time.Duration) *Nono {
	return n.DelaySubscriptionOn(delay, Computation())
}

// DelaySubscriptionOn 在指定调度器上延迟delay后才订阅上游
func (n *Nono) DelaySubscriptionOn(delay time.Duration, scheduler Scheduler) *Nono {
	return TimerOn(delay, scheduler).AndThen(n)
}

// ============================================================================
// 超时
// ============================================================================

// Timeout 上游在timeout内没有终止时取消上游并以*TimeoutError失败
func (n *Nono) Timeout(timeout time.Duration) *Nono {
	return n.TimeoutOrElse(timeout, Computation(), nil)
}

// TimeoutOn 在指定调度器上计时的Timeout
func (n *Nono) TimeoutOn(timeout time.Duration, scheduler Scheduler) *Nono {
	return n.TimeoutOrElse(timeout, scheduler, nil)
}

// TimeoutOrElse 上游超时时取消上游并订阅fallback；fallback为nil时以*TimeoutError失败
func (n *Nono) TimeoutOrElse(timeout time.Duration, scheduler Scheduler, fallback *Nono) *Nono {
	requireScheduler(scheduler)
	if timeout <= 0 {
		panic(NewInvalidArgumentError("timeout", fmt.Sprintf("must be positive (got %s)", timeout)))
	}
	parent := n
	return onAssembly(newNono("Timeout", func(s Subscriber) {
		t := &timeoutSubscriber{downstream: s, fallback: fallback, timeout: timeout}
		s.OnSubscribe(t)
		if t.isDone() {
			return
		}
		t.timer.set(scheduler.ScheduleWithDelay(t.onTimeout, timeout))
		parent.subscribe(t)
	}))
}

// timeoutSubscriber 上游终止与计时器竞争，先到者获胜
type timeoutSubscriber struct {
	terminalGate
	downstream Subscriber
	fallback   *Nono
	timeout    time.Duration

	won      atomic.Bool
	upstream subscriptionSlot
	other    subscriptionSlot
	timer    serialDisposable
}

func (t *timeoutSubscriber) conforms() {}

func (t *timeoutSubscriber) OnSubscribe(sub Subscription) {
	t.upstream.replace(sub)
}

func (t *timeoutSubscriber) OnComplete() {
	if t.won.CompareAndSwap(false, true) {
		t.timer.Dispose()
		if t.terminate() {
			t.downstream.OnComplete()
		}
	}
}

func (t *timeoutSubscriber) OnError(err error) {
	if t.won.CompareAndSwap(false, true) {
		t.timer.Dispose()
		t.fail(err)
		return
	}
	if !t.upstream.isCancelled() {
		ReportError(err)
	}
}

func (t *timeoutSubscriber) onTimeout() {
	if !t.won.CompareAndSwap(false, true) {
		return
	}
	t.upstream.cancel()

	if t.fallback == nil {
		t.fail(NewTimeoutError(fmt.Sprintf("nono: no terminal event within %s", t.timeout)))
		return
	}
	if !t.isDone() {
		t.fallback.subscribe(&timeoutFallbackSubscriber{parent: t})
	}
}

func (t *timeoutSubscriber) fail(err error) {
	if t.terminate() {
		t.downstream.OnError(err)
		return
	}
	if !t.isCancelled() {
		ReportError(err)
	}
}

func (t *timeoutSubscriber) Cancel() {
	if t.cancel() {
		t.timer.Dispose()
		t.upstream.cancel()
		t.other.cancel()
	}
}

func (t *timeoutSubscriber) IsCancelled() bool {
	return t.isCancelled()
}

// timeoutFallbackSubscriber 超时后订阅的备用源
type timeoutFallbackSubscriber struct {
	parent *timeoutSubscriber
}

func (f *timeoutFallbackSubscriber) conforms() {}

func (f *timeoutFallbackSubscriber) OnSubscribe(sub Subscription) {
	f.parent.other.replace(sub)
}

func (f *timeoutFallbackSubscriber) OnComplete() {
	if f.parent.terminate() {
		f.parent.downstream.OnComplete()
	}
}

func (f *timeoutFallbackSubscriber) OnError(err error) {
	f.parent.fail(err)
}
