// Amb operator for nono
// 竞争操作符：第一个终止的源获胜，其余源被取消
package nono

import (
	"fmt"
	"iter"
	"slices"
)

// Amb 订阅所有源，第一个终止（完成或错误）的源决定结果并取消其他源
//
// 没有源时立即完成，只有一个源时原样返回。按顺序订阅，某个源在订阅过程中同步终止时
// 不再订阅剩余的源。
func Amb(sources ...*Nono) *Nono {
	requireSources(sources)
	switch len(sources) {
	case 0:
		return Complete()
	case 1:
		return sources[0]
	}

	snapshot := slices.Clone(sources)
	return onAssembly(newNono("Amb", func(s Subscriber) {
		subscribeAmb(s, slices.Values(snapshot))
	}))
}

// AmbIter 与Amb相同，每次订阅时遍历序列获取源
func AmbIter(sources iter.Seq[*Nono]) *Nono {
	requireFunc(sources == nil, "sources")
	return onAssembly(newNono("Amb", func(s Subscriber) {
		subscribeAmb(s, sources)
	}))
}

// ambCoordinator 持有获胜闸门和所有参赛者，同时作为下游的订阅句柄
type ambCoordinator struct {
	terminalGate
	downstream Subscriber
	racers     *CompositeDisposable
}

func subscribeAmb(s Subscriber, sources iter.Seq[*Nono]) {
	c := &ambCoordinator{
		downstream: s,
		racers:     NewCompositeDisposable(),
	}
	s.OnSubscribe(c)

	count := 0
	err := SafeExecute(func() {
		for source := range sources {
			if c.isDone() {
				return
			}
			if source == nil {
				c.fail(NewInvalidArgumentError(fmt.Sprintf("sources[%d]", count), "must not be nil"))
				return
			}
			count++

			racer := &ambRacer{parent: c}
			if !c.racers.Add(racer) {
				return
			}
			source.subscribe(racer)
		}
	})
	switch {
	case err != nil:
		c.fail(err)
	case count == 0 && c.terminate():
		s.OnComplete()
	}
}

// fail 源序列本身的失败
func (c *ambCoordinator) fail(err error) {
	if c.terminate() {
		c.racers.Dispose()
		c.downstream.OnError(err)
		return
	}
	if !c.isCancelled() {
		ReportError(err)
	}
}

func (c *ambCoordinator) Cancel() {
	if c.cancel() {
		c.racers.Dispose()
	}
}

func (c *ambCoordinator) IsCancelled() bool {
	return c.isCancelled()
}

// ambRacer 单个参赛者
type ambRacer struct {
	parent   *ambCoordinator
	upstream subscriptionSlot
}

func (r *ambRacer) conforms() {}

func (r *ambRacer) OnSubscribe(sub Subscription) {
	r.upstream.replace(sub)
}

func (r *ambRacer) OnComplete() {
	if r.win() {
		r.parent.downstream.OnComplete()
	}
}

func (r *ambRacer) OnError(err error) {
	if r.win() {
		r.parent.downstream.OnError(err)
		return
	}
	// 失败者已被取消，取消之后到达的错误直接丢弃
	if !r.upstream.isCancelled() {
		ReportError(err)
	}
}

// win 抢占获胜权，成功后取消其他参赛者
func (r *ambRacer) win() bool {
	if !r.parent.terminate() {
		return false
	}
	r.parent.racers.Delete(r)
	r.parent.racers.Dispose()
	return true
}

// Dispose 取消该参赛者的上游
func (r *ambRacer) Dispose() {
	r.upstream.cancel()
}

func (r *ambRacer) IsDisposed() bool {
	return r.upstream.isCancelled()
}
