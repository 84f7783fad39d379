// Package nono provides a value-less asynchronous completion primitive for Go
// 只发射完成或错误信号的异步原语，以及围绕它的组合、调度与订阅生命周期管理
package nono

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 终止协议
// ============================================================================

// Subscriber 订阅者接口，只接收订阅通知和唯一的终止事件
type Subscriber interface {
	// OnSubscribe 在任何终止事件之前最多调用一次
	OnSubscribe(s Subscription)
	// OnComplete 正常完成
	OnComplete()
	// OnError 失败
	OnError(err error)
}

// Subscription 订阅句柄，表示一次订阅的生命周期
type Subscription interface {
	// Cancel 取消订阅，幂等
	Cancel()
	// IsCancelled 检查是否已取消
	IsCancelled() bool
}

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// SignalKind 订阅者在生命周期中观察到的状态
type SignalKind int32

const (
	// SignalNone 尚未终止
	SignalNone SignalKind = iota
	// SignalComplete 已完成
	SignalComplete
	// SignalFailed 已失败
	SignalFailed
	// SignalCancelled 已取消
	SignalCancelled
)

func (k SignalKind) String() string {
	switch k {
	case SignalComplete:
		return "complete"
	case SignalFailed:
		return "failed"
	case SignalCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，控制任务执行时机和方式
type Scheduler interface {
	// Schedule 调度一个任务
	Schedule(action func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(action func(), delay time.Duration) Disposable
	// ScheduleWithContext 带上下文的调度，上下文结束后任务不再执行
	ScheduleWithContext(ctx context.Context, action func()) Disposable
}

// ============================================================================
// 资源管理
// ============================================================================

// CompositeDisposable 组合式资源管理器
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources map[Disposable]struct{}
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable() *CompositeDisposable {
	return &CompositeDisposable{
		resources: make(map[Disposable]struct{}),
	}
}

// Add 添加可释放资源，已释放时立即释放新资源并返回false
func (cd *CompositeDisposable) Add(disposable Disposable) bool {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return false
	}
	cd.resources[disposable] = struct{}{}
	cd.mu.Unlock()
	return true
}

// Delete 移除资源但不释放它
func (cd *CompositeDisposable) Delete(disposable Disposable) bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.disposed {
		return false
	}
	if _, ok := cd.resources[disposable]; !ok {
		return false
	}
	delete(cd.resources, disposable)
	return true
}

// Len 当前持有的资源数量
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// Dispose 释放所有资源
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	// 在锁外释放，资源的释放动作可能重入
	for resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed atomic.Bool
	action   func()
}

// NewBaseDisposable 创建基础可释放资源，action最多执行一次
func NewBaseDisposable(action func()) Disposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if d.disposed.CompareAndSwap(false, true) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return d.disposed.Load()
}

// emptyDisposable 已释放的空资源
var emptyDisposable Disposable = func() Disposable {
	d := &baseDisposable{}
	d.disposed.Store(true)
	return d
}()

// serialDisposable 持有一个可替换的资源，释放后再放入的资源会被立即释放
type serialDisposable struct {
	mu       sync.Mutex
	disposed bool
	current  Disposable
}

// set 替换当前资源，旧资源不会被释放；返回false表示已释放
func (d *serialDisposable) set(resource Disposable) bool {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		resource.Dispose()
		return false
	}
	d.current = resource
	d.mu.Unlock()
	return true
}

func (d *serialDisposable) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	current := d.current
	d.current = nil
	d.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

func (d *serialDisposable) IsDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

// subscriptionDisposable 将Subscription适配为Disposable，指针身份可作为集合键
type subscriptionDisposable struct {
	sub Subscription
}

func (d *subscriptionDisposable) Dispose()         { d.sub.Cancel() }
func (d *subscriptionDisposable) IsDisposed() bool { return d.sub.IsCancelled() }

// ============================================================================
// 终止闸门
// ============================================================================

const (
	stateActive int32 = iota
	stateTerminated
	stateCancelled
)

// terminalGate 终止闸门：Active -> Terminated 或 Active -> Cancelled，两种状态都不可逆
type terminalGate struct {
	state atomic.Int32
}

// terminate 抢占终止权，成功者负责投递唯一的终止事件
func (g *terminalGate) terminate() bool {
	return g.state.CompareAndSwap(stateActive, stateTerminated)
}

// cancel 抢占取消权，成功者负责释放资源
func (g *terminalGate) cancel() bool {
	return g.state.CompareAndSwap(stateActive, stateCancelled)
}

func (g *terminalGate) isCancelled() bool {
	return g.state.Load() == stateCancelled
}

func (g *terminalGate) isDone() bool {
	return g.state.Load() != stateActive
}

// gateSubscription 只由闸门构成的订阅，叶子源使用
type gateSubscription struct {
	terminalGate
	onCancel func()
}

func newGateSubscription(onCancel func()) *gateSubscription {
	return &gateSubscription{onCancel: onCancel}
}

func (s *gateSubscription) Cancel() {
	if s.cancel() && s.onCancel != nil {
		s.onCancel()
	}
}

func (s *gateSubscription) IsCancelled() bool {
	return s.isCancelled()
}

// complete 通过闸门投递完成事件
func (s *gateSubscription) complete(downstream Subscriber) {
	if s.terminate() {
		downstream.OnComplete()
	}
}

// fail 通过闸门投递错误事件，已取消时错误被丢弃，已终止时交给错误汇
func (s *gateSubscription) fail(downstream Subscriber, err error) {
	if s.terminate() {
		downstream.OnError(err)
		return
	}
	if !s.isCancelled() {
		ReportError(err)
	}
}

// ============================================================================
// 订阅槽
// ============================================================================

// subscriptionSlot 持有当前上游订阅，取消后放入的新订阅会被立即取消
type subscriptionSlot struct {
	mu        sync.Mutex
	cancelled bool
	current   Subscription
}

// replace 替换当前订阅，返回false表示槽已取消且sub已被取消
func (s *subscriptionSlot) replace(sub Subscription) bool {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		sub.Cancel()
		return false
	}
	s.current = sub
	s.mu.Unlock()
	return true
}

// cancel 取消当前及之后放入的订阅
func (s *subscriptionSlot) cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

func (s *subscriptionSlot) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// emptySubscription 无事可取消的订阅
type emptySubscription struct{}

func (emptySubscription) Cancel()           {}
func (emptySubscription) IsCancelled() bool { return false }

// ============================================================================
// 工具函数
// ============================================================================

// SafeExecute 安全执行用户代码，将panic转换为错误；致命panic原样重新抛出
func SafeExecute(action func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered, severity := Classify(r)
			if severity == Fatal {
				panic(r)
			}
			err = recovered
		}
	}()

	action()
	return nil
}

// deliverTerminal err为nil时投递完成，否则投递错误
func deliverTerminal(downstream Subscriber, err error) {
	if err != nil {
		downstream.OnError(err)
		return
	}
	downstream.OnComplete()
}
