// Merge operators for nono
// 合并操作符：同时订阅最多maxConcurrency个源，全部完成后才完成
package nono

import (
	"iter"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Merge 工厂函数
// ============================================================================

// Merge 同时订阅所有源，第一个错误取消其他源并立即投递
func Merge(sources ...*Nono) *Nono {
	return mergeSlice("Merge", sources, math.MaxInt, false)
}

// MergeWithConcurrency 同时最多订阅maxConcurrency个源，其余排队
func MergeWithConcurrency(maxConcurrency int, sources ...*Nono) *Nono {
	requirePositive(maxConcurrency, "maxConcurrency")
	return mergeSlice("Merge", sources, maxConcurrency, false)
}

// MergeDelayError 订阅所有源，错误收集到全部源终止后合并投递
//
// 并发数取自配置的BufferSize。
func MergeDelayError(sources ...*Nono) *Nono {
	return mergeSlice("MergeDelayError", sources, BufferSize(), true)
}

// MergeDelayErrorWithConcurrency 延迟错误合并，同时最多订阅maxConcurrency个源
func MergeDelayErrorWithConcurrency(maxConcurrency int, sources ...*Nono) *Nono {
	requirePositive(maxConcurrency, "maxConcurrency")
	return mergeSlice("MergeDelayError", sources, maxConcurrency, true)
}

// MergeIter 合并序列产生的源，槽位空出时才从序列拉取下一个源
//
// 序列可以是无限的：第一个错误或取消会停止拉取。
func MergeIter(sources iter.Seq[*Nono], maxConcurrency int) *Nono {
	requireFunc(sources == nil, "sources")
	requirePositive(maxConcurrency, "maxConcurrency")
	return mergeSeq("MergeIter", sources, maxConcurrency, false)
}

// MergeIterDelayError 延迟错误地合并序列产生的源
//
// 只有序列结束且所有源终止后才会终止，无限序列永远不会自行终止。
func MergeIterDelayError(sources iter.Seq[*Nono], maxConcurrency int) *Nono {
	requireFunc(sources == nil, "sources")
	requirePositive(maxConcurrency, "maxConcurrency")
	return mergeSeq("MergeIterDelayError", sources, maxConcurrency, true)
}

func mergeSlice(name string, sources []*Nono, maxConcurrency int, delayErrors bool) *Nono {
	requireSources(sources)
	switch len(sources) {
	case 0:
		return Complete()
	case 1:
		return sources[0]
	}

	snapshot := slices.Clone(sources)
	return onAssembly(newNono(name, func(s Subscriber) {
		subscribeMerge(s, newSlicePuller(snapshot), maxConcurrency, delayErrors)
	}))
}

func mergeSeq(name string, sources iter.Seq[*Nono], maxConcurrency int, delayErrors bool) *Nono {
	return onAssembly(newNono(name, func(s Subscriber) {
		subscribeMerge(s, newSeqPuller(sources), maxConcurrency, delayErrors)
	}))
}

// ============================================================================
// Merge 实现
// ============================================================================

// mergeCoordinator 合并的状态机
//
// 非延迟模式下第一个错误通过终止闸门获胜；延迟模式下错误被收集，序列结束且活跃数
// 归零时合并投递。拉取和订阅新源只在排空循环中进行。
type mergeCoordinator struct {
	terminalGate
	downstream     Subscriber
	puller         sourcePuller
	maxConcurrency int
	delayErrors    bool

	wip      atomic.Int32
	active   atomic.Int64
	children *CompositeDisposable

	errMu sync.Mutex
	errs  []error

	// 以下字段只在排空循环中访问
	exhausted bool
	released  bool
}

func subscribeMerge(s Subscriber, puller sourcePuller, maxConcurrency int, delayErrors bool) {
	c := &mergeCoordinator{
		downstream:     s,
		puller:         puller,
		maxConcurrency: maxConcurrency,
		delayErrors:    delayErrors,
		children:       NewCompositeDisposable(),
	}
	s.OnSubscribe(c)
	c.drain()
}

func (c *mergeCoordinator) Cancel() {
	if c.cancel() {
		c.children.Dispose()
		c.drain()
	}
}

func (c *mergeCoordinator) IsCancelled() bool {
	return c.isCancelled()
}

func (c *mergeCoordinator) drain() {
	if c.wip.Add(1) != 1 {
		return
	}

	missed := int32(1)
	for {
		if c.isDone() {
			c.release()
		} else {
			c.subscribeAvailable()
		}

		missed = c.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// subscribeAvailable 填满空闲的并发槽位，序列结束且没有活跃源时终止
func (c *mergeCoordinator) subscribeAvailable() {
	for !c.exhausted && c.active.Load() < int64(c.maxConcurrency) {
		source, ok, err := c.puller.next()
		if err != nil {
			c.exhausted = true
			c.innerFailed(err)
			break
		}
		if !ok {
			c.exhausted = true
			break
		}

		inner := &mergeInner{parent: c}
		c.active.Add(1)
		if !c.children.Add(inner) {
			return
		}
		source.subscribe(inner)
		if c.isDone() {
			return
		}
	}

	if c.exhausted && c.active.Load() == 0 {
		c.finish()
	}
}

func (c *mergeCoordinator) finish() {
	c.errMu.Lock()
	errs := c.errs
	c.errs = nil
	c.errMu.Unlock()

	if c.terminate() {
		c.release()
		deliverTerminal(c.downstream, combineErrors(errs))
	}
}

// innerFailed 非延迟模式立即失败，延迟模式收集错误
func (c *mergeCoordinator) innerFailed(err error) {
	if c.delayErrors {
		c.errMu.Lock()
		c.errs = append(c.errs, err)
		c.errMu.Unlock()
		return
	}

	if c.terminate() {
		c.children.Dispose()
		c.downstream.OnError(err)
		c.drain()
		return
	}
	if !c.isCancelled() {
		ReportError(err)
	}
}

// innerDone 某个源终止，释放槽位
func (c *mergeCoordinator) innerDone(inner *mergeInner, err error) {
	c.children.Delete(inner)
	if err != nil {
		c.innerFailed(err)
		if !c.delayErrors {
			return
		}
	}
	c.active.Add(-1)
	c.drain()
}

func (c *mergeCoordinator) release() {
	if c.released {
		return
	}
	c.released = true
	c.puller.stop()
}

// mergeInner 订阅单个源
type mergeInner struct {
	parent   *mergeCoordinator
	upstream subscriptionSlot
	done     atomic.Bool
}

func (i *mergeInner) conforms() {}

func (i *mergeInner) OnSubscribe(sub Subscription) {
	i.upstream.replace(sub)
}

func (i *mergeInner) OnComplete() {
	if i.done.CompareAndSwap(false, true) {
		i.parent.innerDone(i, nil)
	}
}

func (i *mergeInner) OnError(err error) {
	// 合并已经结束并取消了该源
	if i.upstream.isCancelled() && i.parent.isDone() {
		return
	}
	if i.done.CompareAndSwap(false, true) {
		i.parent.innerDone(i, err)
	}
}

// Dispose 取消该源
func (i *mergeInner) Dispose() {
	i.upstream.cancel()
}

func (i *mergeInner) IsDisposed() bool {
	return i.upstream.isCancelled()
}
