// Work-stealing scheduler for nono
// 工作窃取调度器：每个worker持有本地双端队列，空闲时从其他worker的队尾窃取任务
package nono

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	minIdleBackoff = 10 * time.Microsecond
	maxIdleBackoff = time.Millisecond
)

// ============================================================================
// 工作窃取调度器
// ============================================================================

// WorkStealingScheduler 工作窃取调度器
//
// 任务按轮询分配到各worker的本地队列；worker从自己队列的头部取任务，
// 本地队列为空时从其他worker队列的尾部窃取。
type WorkStealingScheduler struct {
	workers    []*stealingWorker
	roundRobin atomic.Uint64
	group      errgroup.Group
	quit       chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
}

// WorkerStats 单个worker的统计
type WorkerStats struct {
	ID            int
	ExecutedTasks int64
	StolenTasks   int64
	LostTasks     int64
	IdleTimeNs    int64
	QueueSize     int
}

// NewWorkStealingScheduler 创建并启动工作窃取调度器，workers<=0时使用CPU数量
func NewWorkStealingScheduler(workers int) *WorkStealingScheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	s := &WorkStealingScheduler{
		workers: make([]*stealingWorker, workers),
		quit:    make(chan struct{}),
	}
	for i := range s.workers {
		s.workers[i] = &stealingWorker{id: i, owner: s, wake: make(chan struct{}, 1)}
	}
	for _, w := range s.workers {
		s.group.Go(w.run)
	}
	return s
}

// Workers 返回worker数量
func (s *WorkStealingScheduler) Workers() int {
	return len(s.workers)
}

// Schedule 提交任务，轮询选择worker
func (s *WorkStealingScheduler) Schedule(action func()) Disposable {
	t := newScheduledTask(action)
	s.submit(s.next(), t)
	return t
}

// ScheduleWithDelay 延迟提交任务
func (s *WorkStealingScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := newScheduledTask(action)
	afterDelay(t, delay, func() { s.submit(s.next(), t) })
	return t
}

// ScheduleWithContext 带上下文提交任务
func (s *WorkStealingScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// SubmitToWorker 提交任务到指定worker的本地队列，id无效时退回轮询
func (s *WorkStealingScheduler) SubmitToWorker(id int, action func()) Disposable {
	if id < 0 || id >= len(s.workers) {
		return s.Schedule(action)
	}
	t := newScheduledTask(action)
	s.submit(s.workers[id], t)
	return t
}

// Stats 返回所有worker的统计
func (s *WorkStealingScheduler) Stats() []WorkerStats {
	stats := make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		stats[i] = w.stats()
	}
	return stats
}

// Dispose 停止所有worker并丢弃尚未执行的任务
func (s *WorkStealingScheduler) Dispose() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		for _, w := range s.workers {
			for _, t := range w.drain() {
				t.Dispose()
			}
		}
	})
}

// IsDisposed 检查是否已释放
func (s *WorkStealingScheduler) IsDisposed() bool {
	return s.closed.Load()
}

// Wait 等待所有worker退出，不能在worker内部调用
func (s *WorkStealingScheduler) Wait() error {
	return s.group.Wait()
}

func (s *WorkStealingScheduler) next() *stealingWorker {
	i := s.roundRobin.Add(1) - 1
	return s.workers[i%uint64(len(s.workers))]
}

func (s *WorkStealingScheduler) submit(w *stealingWorker, t *scheduledTask) {
	if s.closed.Load() || !w.push(t) {
		t.Dispose()
		return
	}
	// Dispose可能在push之后清空了队列
	if s.closed.Load() {
		for _, pending := range w.drain() {
			pending.Dispose()
		}
	}
}

// steal 从除thief以外的worker尾部窃取一个任务
func (s *WorkStealingScheduler) steal(thief *stealingWorker) *scheduledTask {
	n := len(s.workers)
	for i := 1; i < n; i++ {
		victim := s.workers[(thief.id+i)%n]
		if t := victim.popBack(); t != nil {
			victim.lost.Add(1)
			return t
		}
	}
	return nil
}

// ============================================================================
// worker
// ============================================================================

type stealingWorker struct {
	id    int
	owner *WorkStealingScheduler
	wake  chan struct{}

	mu    sync.Mutex
	queue []*scheduledTask
	done  bool

	executed atomic.Int64
	stolen   atomic.Int64
	lost     atomic.Int64
	idleNs   atomic.Int64
}

func (w *stealingWorker) push(t *scheduledTask) bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, t)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

func (w *stealingWorker) popFront() *scheduledTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	t := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return t
}

func (w *stealingWorker) popBack() *scheduledTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	last := len(w.queue) - 1
	if last < 0 {
		return nil
	}
	t := w.queue[last]
	w.queue[last] = nil
	w.queue = w.queue[:last]
	return t
}

// drain 关闭本地队列并取出剩余任务
func (w *stealingWorker) drain() []*scheduledTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	pending := w.queue
	w.queue = nil
	return pending
}

func (w *stealingWorker) run() error {
	backoff := minIdleBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-w.owner.quit:
			return nil
		default:
		}

		if t := w.popFront(); t != nil {
			w.execute(t)
			backoff = minIdleBackoff
			continue
		}
		if t := w.owner.steal(w); t != nil {
			w.stolen.Add(1)
			w.execute(t)
			backoff = minIdleBackoff
			continue
		}

		// 空闲：等待本地提交或退避后重新尝试窃取
		idleStart := time.Now()
		timer.Reset(backoff)
		select {
		case <-w.owner.quit:
			return nil
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
			backoff = min(backoff*2, maxIdleBackoff)
		}
		w.idleNs.Add(int64(time.Since(idleStart)))
	}
}

func (w *stealingWorker) execute(t *scheduledTask) {
	t.run()
	w.executed.Add(1)
}

func (w *stealingWorker) stats() WorkerStats {
	w.mu.Lock()
	size := len(w.queue)
	w.mu.Unlock()

	return WorkerStats{
		ID:            w.id,
		ExecutedTasks: w.executed.Load(),
		StolenTasks:   w.stolen.Load(),
		LostTasks:     w.lost.Load(),
		IdleTimeNs:    w.idleNs.Load(),
		QueueSize:     size,
	}
}
