// Leaf sources for nono
// 叶子源工厂函数：立即完成、立即失败、延迟构建、执行动作、计时器
package nono

import (
	"sync"
	"time"
)

// ============================================================================
// 基础工厂函数
// ============================================================================

// Complete 创建立即完成的Nono
func Complete() *Nono {
	return onAssembly(newCallableNono("Complete", func() error { return nil }))
}

// Never 创建永不终止的Nono，只能被取消
func Never() *Nono {
	return onAssembly(newNono("Never", func(s Subscriber) {
		s.OnSubscribe(newGateSubscription(nil))
	}))
}

// Error 创建立即发射错误的Nono
func Error(err error) *Nono {
	if err == nil {
		panic(NewInvalidArgumentError("err", "must not be nil"))
	}
	return onAssembly(newCallableNono("Error", func() error { return err }))
}

// ErrorFunc 每次订阅时调用supplier获取要发射的错误
func ErrorFunc(supplier func() error) *Nono {
	requireFunc(supplier == nil, "supplier")
	return onAssembly(newCallableNono("ErrorFunc", func() error {
		if err := supplier(); err != nil {
			return err
		}
		return NewInvalidArgumentError("supplier", "returned a nil error")
	}))
}

// FromAction 同步执行动作，返回nil完成，返回错误或panic则失败
func FromAction(action func() error) *Nono {
	requireFunc(action == nil, "action")
	return onAssembly(newCallableNono("FromAction", action))
}

// FromRunnable 同步执行无返回值的动作
func FromRunnable(runnable func()) *Nono {
	requireFunc(runnable == nil, "runnable")
	return onAssembly(newCallableNono("FromRunnable", func() error {
		runnable()
		return nil
	}))
}

// Defer 每次订阅时调用factory构建实际的Nono再订阅它
func Defer(factory func() *Nono) *Nono {
	requireFunc(factory == nil, "factory")
	return onAssembly(newNono("Defer", func(s Subscriber) {
		var source *Nono
		err := SafeExecute(func() { source = factory() })
		if err == nil && source == nil {
			err = NewInvalidArgumentError("factory", "returned a nil Nono")
		}
		if err != nil {
			failImmediately(s, err)
			return
		}
		source.subscribe(s)
	}))
}

// ============================================================================
// 自定义发射器
// ============================================================================

// Emitter 由Create的回调使用，向订阅者发射唯一的终止事件
type Emitter interface {
	// Complete 发射完成，已终止或已取消时忽略
	Complete()
	// Error 发射错误，已终止时交给错误汇，已取消时丢弃
	Error(err error)
	// SetCancel 设置终止或取消时执行的清理函数，替换之前的函数而不执行它
	SetCancel(fn func())
	// IsCancelled 订阅者是否已取消
	IsCancelled() bool
}

// Create 使用发射器创建Nono，回调在订阅者的goroutine中同步执行
func Create(source func(e Emitter)) *Nono {
	requireFunc(source == nil, "source")
	return onAssembly(newNono("Create", func(s Subscriber) {
		e := &createEmitter{downstream: s}
		s.OnSubscribe(e)
		if e.isDone() {
			return
		}
		if err := SafeExecute(func() { source(e) }); err != nil {
			e.Error(err)
		}
	}))
}

// createEmitter 同时作为下游的订阅句柄
type createEmitter struct {
	terminalGate
	downstream Subscriber

	mu       sync.Mutex
	released bool
	onCancel func()
}

func (e *createEmitter) Complete() {
	if e.terminate() {
		e.release()
		e.downstream.OnComplete()
	}
}

func (e *createEmitter) Error(err error) {
	if err == nil {
		err = NewInvalidArgumentError("err", "must not be nil")
	}
	if e.terminate() {
		e.release()
		e.downstream.OnError(err)
		return
	}
	if !e.isCancelled() {
		ReportError(err)
	}
}

func (e *createEmitter) SetCancel(fn func()) {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		if fn != nil {
			e.runCleanup(fn)
		}
		return
	}
	e.onCancel = fn
	e.mu.Unlock()
}

func (e *createEmitter) Cancel() {
	if e.cancel() {
		e.release()
	}
}

func (e *createEmitter) IsCancelled() bool {
	return e.isCancelled()
}

// release 执行一次清理函数
func (e *createEmitter) release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	fn := e.onCancel
	e.onCancel = nil
	e.mu.Unlock()

	if fn != nil {
		e.runCleanup(fn)
	}
}

func (e *createEmitter) runCleanup(fn func()) {
	if err := SafeExecute(fn); err != nil {
		ReportError(err)
	}
}

// ============================================================================
// 计时器
// ============================================================================

// Timer 在delay之后完成，使用Computation调度器
func Timer(delay time.Duration) *Nono {
	return TimerOn(delay, Computation())
}

// TimerOn 在指定调度器上延迟delay后完成，取消会取消尚未触发的计时任务
func TimerOn(delay time.Duration, scheduler Scheduler) *Nono {
	requireScheduler(scheduler)
	if delay < 0 {
		delay = 0
	}
	return onAssembly(newNono("Timer", func(s Subscriber) {
		var task serialDisposable
		sub := newGateSubscription(task.Dispose)
		s.OnSubscribe(sub)
		if sub.isDone() {
			return
		}
		task.set(scheduler.ScheduleWithDelay(func() {
			sub.complete(s)
		}, delay))
	}))
}
