// Monitored scheduler for nono
// 带监控的调度器：任务计数与延迟，同时导出OpenTelemetry指标
package nono

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scheduler指标名称
const (
	MetricTasksScheduled = "nono.scheduler.tasks.scheduled"
	MetricTasksCompleted = "nono.scheduler.tasks.completed"
	MetricTasksFailed    = "nono.scheduler.tasks.failed"
	MetricTasksCancelled = "nono.scheduler.tasks.cancelled"
	MetricTaskLatency    = "nono.scheduler.task.latency"
)

// SchedulerMetrics 调度器性能指标快照
type SchedulerMetrics struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	TasksCancelled int64
	AverageLatency time.Duration
}

// MonitoredScheduler 带监控的调度器包装器
type MonitoredScheduler struct {
	scheduler Scheduler
	attrs     metric.MeasurementOption

	scheduled metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	cancelled metric.Int64Counter
	latency   metric.Float64Histogram

	mu      sync.RWMutex
	metrics SchedulerMetrics
}

// NewMonitoredScheduler 创建带监控的调度器，name作为指标的scheduler属性
func NewMonitoredScheduler(scheduler Scheduler, meter metric.Meter, name string) (*MonitoredScheduler, error) {
	requireScheduler(scheduler)
	if meter == nil {
		panic(NewInvalidArgumentError("meter", "must not be nil"))
	}

	scheduled, err := meter.Int64Counter(MetricTasksScheduled,
		metric.WithDescription("Number of tasks submitted to the scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricTasksScheduled, err)
	}

	completed, err := meter.Int64Counter(MetricTasksCompleted,
		metric.WithDescription("Number of tasks that ran to completion"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricTasksCompleted, err)
	}

	failed, err := meter.Int64Counter(MetricTasksFailed,
		metric.WithDescription("Number of tasks that panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricTasksFailed, err)
	}

	cancelled, err := meter.Int64Counter(MetricTasksCancelled,
		metric.WithDescription("Number of tasks disposed before they started"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricTasksCancelled, err)
	}

	latency, err := meter.Float64Histogram(MetricTaskLatency,
		metric.WithDescription("Time from submission until the task started, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricTaskLatency, err)
	}

	return &MonitoredScheduler{
		scheduler: scheduler,
		attrs:     metric.WithAttributes(attribute.String("scheduler", name)),
		scheduled: scheduled,
		completed: completed,
		failed:    failed,
		cancelled: cancelled,
		latency:   latency,
	}, nil
}

// Schedule 调度任务并记录指标
func (s *MonitoredScheduler) Schedule(action func()) Disposable {
	t := s.track(action)
	return t.bind(s.scheduler.Schedule(t.run))
}

// ScheduleWithDelay 延迟调度任务并记录指标，延迟不计入延迟指标
func (s *MonitoredScheduler) ScheduleWithDelay(action func(), delay time.Duration) Disposable {
	t := s.track(action)
	t.submitted = t.submitted.Add(delay)
	return t.bind(s.scheduler.ScheduleWithDelay(t.run, delay))
}

// ScheduleWithContext 带上下文调度任务并记录指标
func (s *MonitoredScheduler) ScheduleWithContext(ctx context.Context, action func()) Disposable {
	return scheduleWithContext(s, ctx, action)
}

// Metrics 获取调度器指标快照
func (s *MonitoredScheduler) Metrics() SchedulerMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *MonitoredScheduler) track(action func()) *monitoredTask {
	s.mu.Lock()
	s.metrics.TasksScheduled++
	s.mu.Unlock()
	s.scheduled.Add(context.Background(), 1, s.attrs)

	return &monitoredTask{owner: s, action: action, submitted: time.Now()}
}

// updateAverageLatency 更新平均延迟
func (s *MonitoredScheduler) updateAverageLatency(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 简单的移动平均计算
	if s.metrics.AverageLatency == 0 {
		s.metrics.AverageLatency = latency
		return
	}
	s.metrics.AverageLatency = (s.metrics.AverageLatency + latency) / 2
}

func (s *MonitoredScheduler) count(field *int64, counter metric.Int64Counter) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
	counter.Add(context.Background(), 1, s.attrs)
}

// monitoredTask 单个任务的执行与取消记录
type monitoredTask struct {
	owner     *MonitoredScheduler
	action    func()
	submitted time.Time
	started   atomic.Bool
	inner     Disposable
}

func (t *monitoredTask) bind(inner Disposable) Disposable {
	t.inner = inner
	return t
}

func (t *monitoredTask) run() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	s := t.owner
	latency := time.Since(t.submitted)
	if latency < 0 {
		latency = 0
	}
	s.updateAverageLatency(latency)
	s.latency.Record(context.Background(), latency.Seconds(), s.attrs)

	if err := SafeExecute(t.action); err != nil {
		s.count(&s.metrics.TasksFailed, s.failed)
		ReportError(err)
		return
	}
	s.count(&s.metrics.TasksCompleted, s.completed)
}

func (t *monitoredTask) Dispose() {
	if t.started.CompareAndSwap(false, true) {
		t.owner.count(&t.owner.metrics.TasksCancelled, t.owner.cancelled)
	}
	if t.inner != nil {
		t.inner.Dispose()
	}
}

func (t *monitoredTask) IsDisposed() bool {
	return t.inner != nil && t.inner.IsDisposed()
}
