// Instrumentation assembly hooks for nono
// 插桩钩子：OpenTelemetry追踪与zerolog生命周期日志，通过组装钩子安装到每个节点
package nono

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span属性键
const (
	AttrNode       = "nono.node"
	AttrAssemblyID = "nono.assembly.id"
	AttrErrorKind  = "nono.error.kind"
	AttrOutcome    = "nono.outcome"
)

// ============================================================================
// 生命周期观察
// ============================================================================

// lifecycleObserver 观察一次订阅的结局，三个方法中恰好调用一个
type lifecycleObserver interface {
	completed()
	failed(err error)
	cancelled()
}

// observedSubscriber 在转发事件前通知观察者，同时包装上游订阅以观察取消
type observedSubscriber struct {
	downstream Subscriber
	observer   lifecycleObserver
	ended      atomic.Bool
}

func (o *observedSubscriber) conforms() {}

func (o *observedSubscriber) OnSubscribe(sub Subscription) {
	o.downstream.OnSubscribe(&observedSubscription{upstream: sub, parent: o})
}

func (o *observedSubscriber) OnComplete() {
	if o.ended.CompareAndSwap(false, true) {
		o.observer.completed()
	}
	o.downstream.OnComplete()
}

func (o *observedSubscriber) OnError(err error) {
	if o.ended.CompareAndSwap(false, true) {
		o.observer.failed(err)
	}
	o.downstream.OnError(err)
}

type observedSubscription struct {
	upstream Subscription
	parent   *observedSubscriber
}

func (s *observedSubscription) Cancel() {
	if s.parent.ended.CompareAndSwap(false, true) {
		s.parent.observer.cancelled()
	}
	s.upstream.Cancel()
}

func (s *observedSubscription) IsCancelled() bool {
	return s.upstream.IsCancelled()
}

// observe 使用每次订阅新建的观察者包装节点，不触发组装钩子
func observe(n *Nono, newObserver func() lifecycleObserver) *Nono {
	return n.Decorate(func(downstream Subscriber) Subscriber {
		return &observedSubscriber{downstream: downstream, observer: newObserver()}
	})
}

// ============================================================================
// OpenTelemetry 追踪
// ============================================================================

// TracingAssemblyHook 为每个构建的节点的每次订阅打开一个span
//
// span名为"nono."加操作符名称，终止或取消时结束；失败时记录错误并设置错误状态。
func TracingAssemblyHook(tracer trace.Tracer) AssemblyHook {
	if tracer == nil {
		panic(NewInvalidArgumentError("tracer", "must not be nil"))
	}
	return func(n *Nono) (*Nono, error) {
		name := n.Name()
		attrs := trace.WithAttributes(
			attribute.String(AttrNode, name),
			attribute.String(AttrAssemblyID, uuid.NewString()),
		)
		return observe(n, func() lifecycleObserver {
			_, span := tracer.Start(context.Background(), "nono."+name, attrs)
			return &spanObserver{span: span}
		}), nil
	}
}

type spanObserver struct {
	span trace.Span
}

func (o *spanObserver) completed() {
	o.span.SetAttributes(attribute.String(AttrOutcome, SignalComplete.String()))
	o.span.SetStatus(codes.Ok, "")
	o.span.End()
}

func (o *spanObserver) failed(err error) {
	o.span.SetAttributes(
		attribute.String(AttrOutcome, SignalFailed.String()),
		attribute.String(AttrErrorKind, KindOf(err).String()),
	)
	o.span.RecordError(err)
	o.span.SetStatus(codes.Error, err.Error())
	o.span.End()
}

func (o *spanObserver) cancelled() {
	o.span.SetAttributes(attribute.String(AttrOutcome, SignalCancelled.String()))
	o.span.AddEvent("cancelled")
	o.span.End()
}

// ============================================================================
// zerolog 生命周期日志
// ============================================================================

// LoggingAssemblyHook 在Debug级别记录每个节点每次订阅的开始与结局
func LoggingAssemblyHook(l zerolog.Logger) AssemblyHook {
	return func(n *Nono) (*Nono, error) {
		name := n.Name()
		return observe(n, func() lifecycleObserver {
			o := &logObserver{
				logger: l.With().
					Str("node", name).
					Str("subscription", uuid.NewString()).
					Logger(),
				start: time.Now(),
			}
			o.logger.Debug().Msg("subscribed")
			return o
		}), nil
	}
}

type logObserver struct {
	logger zerolog.Logger
	start  time.Time
}

func (o *logObserver) completed() {
	o.logger.Debug().
		Str("outcome", SignalComplete.String()).
		Dur("elapsed", time.Since(o.start)).
		Msg("terminated")
}

func (o *logObserver) failed(err error) {
	o.logger.Debug().
		Err(err).
		Str("outcome", SignalFailed.String()).
		Str("kind", KindOf(err).String()).
		Dur("elapsed", time.Since(o.start)).
		Msg("terminated")
}

func (o *logObserver) cancelled() {
	o.logger.Debug().
		Str("outcome", SignalCancelled.String()).
		Dur("elapsed", time.Since(o.start)).
		Msg("cancelled")
}
