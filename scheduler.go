// Scheduler implementations for nono
// 调度器实现：提交任务立即或延迟执行，返回的Disposable能真正取消尚未执行的任务
package nono

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 可取消任务
// ============================================================================

// scheduledTask 调度器内部的任务单元
type scheduledTask struct {
	action   func()
	disposed atomic.Bool

	mu   sync.Mutex
	stop func() bool
}

func newScheduledTask(action func()) *scheduledTask {
	return &scheduledTask{action: action}
}

// run 执行任务，已取消的任务被跳过，任务中的panic交给错误汇
func (t *scheduledTask) run() {
	if t.disposed.Load() {
		return
	}
	if err := SafeExecute(t.action); err != nil {
		ReportError(err)
	}
}

// setStop 绑定底层计时器的停止函数，任务已取消时立即停止
func (t *scheduledTask) setStop(stop func() bool) {
	t.mu.Lock()
	t.stop = stop
	t.mu.Unlock()
	if t.disposed.Load() {
		stop()
	}
}

func (t *scheduledTask) Dispose() {
	if !t.disposed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (t *scheduledTask) IsDisposed() bool {
	return t.disposed.Load()
}

// afterDelay 在delay之后调用fire，delay<=0时仍走计时器以保持异步语义
func afterDelay(t *scheduledTask, delay time.Duration, fire func()) {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fire)
	t.setStop(timer.Stop)
}

// scheduleWithContext 通用的上下文调度：上下文结束时取消任务
func scheduleWithContext(s Scheduler, ctx context.Context, action func()) Disposable {
	if ctx.Err() != nil {
		return emptyDisposable
	}
	inner := s.Schedule(func() {
		if ctx.Err() == nil {
			action()
		}
	})
	stop := context.AfterFunc(ctx, inner.Dispose)
	return NewBaseDisposable(func() {
		stop()
		inner.Dispose()
	})
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{}
}

// Schedule 立即执行任务
func (s *immediateScheduler) Schedule(action func()) Disposable {
	t := newScheduledTask(action)
	t.run()
	t.Dispose()
	return t
}

// ScheduleWithDelay 延迟执行任务，在计时器goroutine中执行
func (s *immediateScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := newScheduledTask(action)
	afterDelay(t, delay, t.run)
	return t
}

// ScheduleWithContext 带上下文执行任务
func (s *immediateScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// newThreadScheduler 为每个任务创建新的goroutine
type newThreadScheduler struct{}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler() Scheduler {
	return &newThreadScheduler{}
}

// Schedule 在新goroutine中执行任务
func (s *newThreadScheduler) Schedule(action func()) Disposable {
	t := newScheduledTask(action)
	go t.run()
	return t
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := newScheduledTask(action)
	afterDelay(t, delay, t.run)
	return t
}

// ScheduleWithContext 带上下文在新goroutine中执行任务
func (s *newThreadScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// ============================================================================
// 串行调度器 - Serial Scheduler
// ============================================================================

// serialScheduler 按提交顺序逐个执行任务，同一时刻最多一个任务在运行
type serialScheduler struct {
	mu         sync.Mutex
	queue      []*scheduledTask
	processing bool
}

// NewSerialScheduler 创建串行调度器
func NewSerialScheduler() Scheduler {
	return &serialScheduler{}
}

// Schedule 将任务加入队列
func (s *serialScheduler) Schedule(action func()) Disposable {
	t := newScheduledTask(action)
	s.enqueue(t)
	return t
}

// ScheduleWithDelay 延迟后将任务加入队列
func (s *serialScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := newScheduledTask(action)
	afterDelay(t, delay, func() { s.enqueue(t) })
	return t
}

// ScheduleWithContext 带上下文调度任务
func (s *serialScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

func (s *serialScheduler) enqueue(t *scheduledTask) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	if s.processing {
		s.mu.Unlock()
		return
	}
	s.processing = true
	s.mu.Unlock()

	go s.processQueue()
}

// processQueue 处理队列中的任务
func (s *serialScheduler) processQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.processing = false
			s.mu.Unlock()
			return
		}

		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		t.run()
	}
}

// ============================================================================
// 线程池调度器 - Thread Pool Scheduler
// ============================================================================

// ThreadPoolScheduler 使用固定数量的worker goroutine执行任务
//
// 队列无界，Schedule从不阻塞，worker自己向池中提交任务也不会死锁。
type ThreadPoolScheduler struct {
	workers int
	group   errgroup.Group

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*scheduledTask
	closed   bool
	draining bool
}

// NewThreadPoolScheduler 创建线程池调度器，workers<=0时使用CPU数量
func NewThreadPoolScheduler(workers int) *ThreadPoolScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &ThreadPoolScheduler{workers: workers}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < workers; i++ {
		s.group.Go(s.worker)
	}

	return s
}

// Workers 返回worker数量
func (s *ThreadPoolScheduler) Workers() int {
	return s.workers
}

// Schedule 在线程池中执行任务
func (s *ThreadPoolScheduler) Schedule(action func()) Disposable {
	t := newScheduledTask(action)
	if !s.enqueue(t) {
		t.Dispose()
	}
	return t
}

// ScheduleWithDelay 延迟在线程池中执行任务
func (s *ThreadPoolScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := newScheduledTask(action)
	afterDelay(t, delay, func() {
		if !s.enqueue(t) {
			t.Dispose()
		}
	})
	return t
}

// ScheduleWithContext 带上下文在线程池中执行任务
func (s *ThreadPoolScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// enqueue 返回false表示线程池已释放，任务被丢弃
func (s *ThreadPoolScheduler) enqueue(t *scheduledTask) bool {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return false
	case s.draining:
		// 正在退役的池子仍然执行已经接受的工作
		s.mu.Unlock()
		go t.run()
		return true
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	s.cond.Signal()
	return true
}

// worker 工作goroutine
func (s *ThreadPoolScheduler) worker() error {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed && !s.draining {
			s.cond.Wait()
		}
		if s.closed || len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		t.run()
	}
}

// Dispose 释放线程池，丢弃尚未执行的任务，不等待正在执行的任务
func (s *ThreadPoolScheduler) Dispose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()
	s.cond.Broadcast()

	for _, t := range pending {
		t.Dispose()
	}
}

// Shutdown 停止接收新的排队，worker执行完已排队的任务后退出；之后到期的延迟任务在独立goroutine中执行
func (s *ThreadPoolScheduler) Shutdown() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// IsDisposed 检查是否已释放
func (s *ThreadPoolScheduler) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait 等待所有worker退出，不能在worker内部调用
func (s *ThreadPoolScheduler) Wait() error {
	return s.group.Wait()
}

// ============================================================================
// 测试调度器 - Test Scheduler
// ============================================================================

// TestScheduler 虚拟时钟调度器，任务只在推进时间时执行
type TestScheduler struct {
	mu    sync.Mutex
	clock time.Duration
	seq   uint64
	queue []*virtualTask
}

// virtualTask 调度的动作
type virtualTask struct {
	scheduledTask
	due   time.Duration
	seq   uint64
	owner *TestScheduler
}

func (t *virtualTask) Dispose() {
	if t.disposed.CompareAndSwap(false, true) {
		t.owner.remove(t)
	}
}

// NewTestScheduler 创建测试调度器
func NewTestScheduler() *TestScheduler {
	return &TestScheduler{}
}

// Schedule 在当前虚拟时间调度任务
func (s *TestScheduler) Schedule(action func()) Disposable {
	return s.ScheduleAt(s.Now(), action)
}

// ScheduleWithDelay 延迟调度任务
func (s *TestScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	due := s.clock + delay
	s.mu.Unlock()
	return s.ScheduleAt(due, action)
}

// ScheduleWithContext 带上下文调度任务
func (s *TestScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// ScheduleAt 在指定虚拟时间调度任务
func (s *TestScheduler) ScheduleAt(due time.Duration, action func()) Disposable {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	t := &virtualTask{
		scheduledTask: scheduledTask{action: action},
		due:           due,
		seq:           s.seq,
		owner:         s,
	}
	// 插入到正确的位置以保持时间顺序，同一时刻按提交顺序
	i := sort.Search(len(s.queue), func(i int) bool {
		q := s.queue[i]
		return q.due > due || (q.due == due && q.seq > t.seq)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = t
	return t
}

// AdvanceTimeBy 推进时间
func (s *TestScheduler) AdvanceTimeBy(d time.Duration) {
	s.mu.Lock()
	target := s.clock + d
	s.mu.Unlock()
	s.AdvanceTimeTo(target)
}

// AdvanceTimeTo 推进时间到指定时刻，执行所有到期任务（包括执行过程中新调度的到期任务）
func (s *TestScheduler) AdvanceTimeTo(target time.Duration) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due > target {
			if target > s.clock {
				s.clock = target
			}
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if t.due > s.clock {
			s.clock = t.due
		}
		s.mu.Unlock()

		// 解锁后执行，允许任务调度新任务
		t.run()
	}
}

// TriggerActions 执行当前时刻已到期的任务
func (s *TestScheduler) TriggerActions() {
	s.AdvanceTimeBy(0)
}

// Now 当前虚拟时间
func (s *TestScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Pending 尚未执行的任务数量
func (s *TestScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *TestScheduler) remove(t *virtualTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// ============================================================================
// 默认调度器
// ============================================================================

var (
	// ImmediateScheduler 立即调度器实例
	ImmediateScheduler = NewImmediateScheduler()

	// NewThreadScheduler 新线程调度器实例
	NewThreadScheduler = NewNewThreadScheduler()

	computation        atomic.Pointer[ThreadPoolScheduler]
	computationMu      sync.Mutex
	computationWorkers atomic.Int64
)

// Computation 共享的计算线程池，Timer、Delay、Timeout等操作符的默认调度器
func Computation() Scheduler {
	if s := computation.Load(); s != nil {
		return s
	}

	computationMu.Lock()
	defer computationMu.Unlock()

	if s := computation.Load(); s != nil {
		return s
	}
	s := NewThreadPoolScheduler(int(computationWorkers.Load()))
	computation.Store(s)
	return s
}

// resizeComputation 替换计算线程池，旧池执行完已接受的任务后退出
func resizeComputation(workers int) {
	computationMu.Lock()
	defer computationMu.Unlock()

	computationWorkers.Store(int64(workers))
	old := computation.Load()
	if old == nil {
		return
	}
	if old.Workers() == workers || (workers <= 0 && old.Workers() == runtime.NumCPU()) {
		return
	}
	computation.Store(NewThreadPoolScheduler(workers))
	old.Shutdown()
}
