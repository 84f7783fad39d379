// Interop with value-carrying sources
// 与携带数据的源互操作：忽略数据，只转发终止事件
package nono

import (
	"math"
	"sync/atomic"
)

// ============================================================================
// 发布者边界
// ============================================================================

// ValueSubscriber 接收数据项的订阅者
type ValueSubscriber[T any] interface {
	Subscriber
	OnNext(value T)
}

// Publisher 产生数据项和终止事件的外部源
type Publisher[T any] interface {
	Subscribe(s ValueSubscriber[T])
}

// PublisherFunc 函数适配器
type PublisherFunc[T any] func(s ValueSubscriber[T])

// Subscribe 调用函数本身
func (f PublisherFunc[T]) Subscribe(s ValueSubscriber[T]) {
	f(s)
}

// requester 支持背压请求的订阅
type requester interface {
	Request(n int64)
}

// FromPublisher 订阅发布者，丢弃所有数据项，只转发终止事件
//
// 发布者的订阅如果支持Request，会请求无限数量。
func FromPublisher[T any](p Publisher[T]) *Nono {
	if p == nil {
		panic(NewInvalidArgumentError("publisher", "must not be nil"))
	}
	return onAssembly(newNono("FromPublisher", func(s Subscriber) {
		inner := &ignoreValuesSubscriber[T]{downstream: s}
		if err := SafeExecute(func() { p.Subscribe(inner) }); err != nil {
			inner.OnError(err)
		}
	}))
}

// ignoreValuesSubscriber 外部发布者不一定遵守协议，这里自己守住终止闸门
type ignoreValuesSubscriber[T any] struct {
	terminalGate
	downstream Subscriber
	upstream   subscriptionSlot
	subscribed atomic.Bool
}

func (s *ignoreValuesSubscriber[T]) OnSubscribe(sub Subscription) {
	if sub == nil {
		return
	}
	if !s.subscribed.CompareAndSwap(false, true) {
		sub.Cancel()
		ReportError(&ProtocolViolationError{Message: "publisher called OnSubscribe more than once"})
		return
	}
	s.downstream.OnSubscribe(s)
	if !s.upstream.replace(sub) {
		return
	}
	if r, ok := sub.(requester); ok {
		r.Request(math.MaxInt64)
	}
}

func (s *ignoreValuesSubscriber[T]) OnNext(T) {}

func (s *ignoreValuesSubscriber[T]) OnComplete() {
	s.ensureSubscribed()
	if s.terminate() {
		s.downstream.OnComplete()
	}
}

func (s *ignoreValuesSubscriber[T]) OnError(err error) {
	if err == nil {
		err = &ProtocolViolationError{Message: "publisher signalled a nil error"}
	}
	s.ensureSubscribed()
	if s.terminate() {
		s.downstream.OnError(err)
		return
	}
	if !s.isCancelled() {
		ReportError(err)
	}
}

// ensureSubscribed 发布者跳过OnSubscribe直接终止时补发订阅通知
func (s *ignoreValuesSubscriber[T]) ensureSubscribed() {
	if s.subscribed.CompareAndSwap(false, true) {
		s.downstream.OnSubscribe(s)
	}
}

func (s *ignoreValuesSubscriber[T]) Cancel() {
	if s.cancel() {
		s.upstream.cancel()
	}
}

func (s *ignoreValuesSubscriber[T]) IsCancelled() bool {
	return s.isCancelled()
}

// ============================================================================
// 通道适配
// ============================================================================

// FromChannel 丢弃通道中的数据，通道关闭时完成
func FromChannel[T any](ch <-chan T) *Nono {
	if ch == nil {
		panic(NewInvalidArgumentError("ch", "must not be nil"))
	}
	return onAssembly(newNono("FromChannel", func(s Subscriber) {
		done := make(chan struct{})
		sub := newGateSubscription(func() { close(done) })
		s.OnSubscribe(sub)
		if sub.isDone() {
			return
		}

		go func() {
			for {
				select {
				case <-done:
					return
				case _, ok := <-ch:
					if !ok {
						sub.complete(s)
						return
					}
				}
			}
		}()
	}))
}

// FromErrorChannel 接收第一个结果：非nil错误则失败，nil或通道关闭则完成
func FromErrorChannel(ch <-chan error) *Nono {
	if ch == nil {
		panic(NewInvalidArgumentError("ch", "must not be nil"))
	}
	return onAssembly(newNono("FromErrorChannel", func(s Subscriber) {
		done := make(chan struct{})
		sub := newGateSubscription(func() { close(done) })
		s.OnSubscribe(sub)
		if sub.isDone() {
			return
		}

		go func() {
			select {
			case <-done:
			case err, ok := <-ch:
				if ok && err != nil {
					sub.fail(s, err)
					return
				}
				sub.complete(s)
			}
		}()
	}))
}
