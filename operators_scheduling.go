// Scheduling operators for nono
// 调度操作符：SubscribeOn改变订阅发生的位置，ObserveOn改变终止事件投递的位置
package nono

// SubscribeOn 在调度器上执行对上游的订阅
//
// 调度的订阅任务执行前取消，任务不会再执行。
func (n *Nono) SubscribeOn(scheduler Scheduler) *Nono {
	requireScheduler(scheduler)
	parent := n
	return onAssembly(newNono("SubscribeOn", func(s Subscriber) {
		so := &subscribeOnSubscriber{passThrough: passThrough{downstream: s}}
		s.OnSubscribe(so)
		so.task.set(scheduler.Schedule(func() {
			if !so.upstream.isCancelled() {
				parent.subscribe(so)
			}
		}))
	}))
}

type subscribeOnSubscriber struct {
	passThrough
	upstream subscriptionSlot
	task     serialDisposable
}

func (s *subscribeOnSubscriber) OnSubscribe(sub Subscription) {
	s.upstream.replace(sub)
}

func (s *subscribeOnSubscriber) Cancel() {
	s.task.Dispose()
	s.upstream.cancel()
}

func (s *subscribeOnSubscriber) IsCancelled() bool {
	return s.upstream.isCancelled()
}

// ObserveOn 在调度器上向下游投递终止事件
func (n *Nono) ObserveOn(scheduler Scheduler) *Nono {
	requireScheduler(scheduler)
	return onAssembly(n.lift("ObserveOn", func(downstream Subscriber) Subscriber {
		return &observeOnSubscriber{downstream: downstream, scheduler: scheduler}
	}))
}

type observeOnSubscriber struct {
	terminalGate
	downstream Subscriber
	scheduler  Scheduler

	upstream subscriptionSlot
	task     serialDisposable
}

func (o *observeOnSubscriber) conforms() {}

func (o *observeOnSubscriber) OnSubscribe(sub Subscription) {
	o.downstream.OnSubscribe(o)
	o.upstream.replace(sub)
}

func (o *observeOnSubscriber) OnComplete() {
	o.dispatch(nil)
}

func (o *observeOnSubscriber) OnError(err error) {
	o.dispatch(err)
}

func (o *observeOnSubscriber) dispatch(err error) {
	if o.isDone() {
		return
	}
	o.task.set(o.scheduler.Schedule(func() {
		if o.terminate() {
			deliverTerminal(o.downstream, err)
		}
	}))
}

func (o *observeOnSubscriber) Cancel() {
	if o.cancel() {
		o.upstream.cancel()
		o.task.Dispose()
	}
}

func (o *observeOnSubscriber) IsCancelled() bool {
	return o.isCancelled()
}
