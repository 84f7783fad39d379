// Concat operators for nono
// 顺序连接操作符：一次只订阅一个源，前一个完成后订阅下一个
package nono

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrorMode 连接过程中错误的投递时机
type ErrorMode int

const (
	// ErrorModeImmediate 任何错误立即终止，包括预取源时发现的外部序列错误
	ErrorModeImmediate ErrorMode = iota
	// ErrorModeBoundary 外部序列的错误等当前源结束后再投递
	ErrorModeBoundary
	// ErrorModeEnd 收集所有错误，全部源结束后合并投递
	ErrorModeEnd
)

func (m ErrorMode) String() string {
	switch m {
	case ErrorModeImmediate:
		return "immediate"
	case ErrorModeBoundary:
		return "boundary"
	case ErrorModeEnd:
		return "end"
	default:
		return fmt.Sprintf("ErrorMode(%d)", int(m))
	}
}

// ============================================================================
// 源拉取器
// ============================================================================

// sourcePuller 按需拉取下一个源，只在排空循环中调用
type sourcePuller interface {
	// next 返回下一个源；ok为false表示序列结束，err非nil表示序列本身失败
	next() (source *Nono, ok bool, err error)
	// stop 释放序列，可以重复调用
	stop()
}

// slicePuller 固定源列表
type slicePuller struct {
	sources []*Nono
	index   int
}

func newSlicePuller(sources []*Nono) *slicePuller {
	return &slicePuller{sources: sources}
}

func (p *slicePuller) next() (*Nono, bool, error) {
	if p.index >= len(p.sources) {
		return nil, false, nil
	}
	source := p.sources[p.index]
	p.index++
	return source, true, nil
}

func (p *slicePuller) stop() {
	p.index = len(p.sources)
}

// seqPuller 从iter.Seq惰性拉取，序列中的panic和nil元素都成为序列错误
type seqPuller struct {
	seq   iter.Seq2[*Nono, error]
	pull  func() (*Nono, error, bool)
	close func()
	index int
	done  bool
}

func newSeqPuller(seq iter.Seq[*Nono]) *seqPuller {
	return newSeq2Puller(func(yield func(*Nono, error) bool) {
		for source := range seq {
			if !yield(source, nil) {
				return
			}
		}
	})
}

func newSeq2Puller(seq iter.Seq2[*Nono, error]) *seqPuller {
	return &seqPuller{seq: seq}
}

func (p *seqPuller) next() (source *Nono, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}
	if p.pull == nil {
		p.pull, p.close = iter.Pull2(p.seq)
	}

	var seqErr error
	if perr := SafeExecute(func() { source, seqErr, ok = p.pull() }); perr != nil {
		p.stop()
		return nil, false, perr
	}
	if !ok {
		p.stop()
		return nil, false, nil
	}
	if seqErr != nil {
		p.stop()
		return nil, false, seqErr
	}
	if source == nil {
		p.stop()
		return nil, false, NewInvalidArgumentError(fmt.Sprintf("sources[%d]", p.index), "must not be nil")
	}
	p.index++
	return source, true, nil
}

func (p *seqPuller) stop() {
	p.done = true
	if p.close != nil {
		release := p.close
		p.close = nil
		release()
	}
}

// ============================================================================
// Concat 工厂函数
// ============================================================================

// Concat 按顺序订阅源，任何错误立即终止
func Concat(sources ...*Nono) *Nono {
	return concatSlice("Concat", sources, ErrorModeImmediate)
}

// ConcatDelayError 按顺序订阅所有源，错误收集到最后合并投递
func ConcatDelayError(sources ...*Nono) *Nono {
	return concatSlice("ConcatDelayError", sources, ErrorModeEnd)
}

func concatSlice(name string, sources []*Nono, mode ErrorMode) *Nono {
	requireSources(sources)
	switch len(sources) {
	case 0:
		return Complete()
	case 1:
		return sources[0]
	}

	snapshot := slices.Clone(sources)
	return onAssembly(newNono(name, func(s Subscriber) {
		subscribeConcat(s, newSlicePuller(snapshot), 1, mode)
	}))
}

// ConcatIter 按顺序订阅序列产生的源，预取数量取自配置
func ConcatIter(sources iter.Seq[*Nono]) *Nono {
	requireFunc(sources == nil, "sources")
	return concatSeq("ConcatIter", func() sourcePuller { return newSeqPuller(sources) }, Prefetch(), ErrorModeImmediate)
}

// ConcatIterDelayError 与ConcatIter相同，错误收集到最后合并投递
func ConcatIterDelayError(sources iter.Seq[*Nono]) *Nono {
	requireFunc(sources == nil, "sources")
	return concatSeq("ConcatIterDelayError", func() sourcePuller { return newSeqPuller(sources) }, Prefetch(), ErrorModeEnd)
}

// ConcatSeq 连接动态产生的源，序列本身也可以失败
//
// prefetch控制当前源运行期间提前从序列拉取多少个源，mode控制错误何时投递。
func ConcatSeq(sources iter.Seq2[*Nono, error], prefetch int, mode ErrorMode) *Nono {
	requireFunc(sources == nil, "sources")
	requirePositive(prefetch, "prefetch")
	if mode < ErrorModeImmediate || mode > ErrorModeEnd {
		panic(NewInvalidArgumentError("mode", "unknown error mode "+mode.String()))
	}
	return concatSeq("ConcatSeq", func() sourcePuller { return newSeq2Puller(sources) }, prefetch, mode)
}

func concatSeq(name string, puller func() sourcePuller, prefetch int, mode ErrorMode) *Nono {
	return onAssembly(newNono(name, func(s Subscriber) {
		subscribeConcat(s, puller(), prefetch, mode)
	}))
}

// AndThen 当前Nono完成后订阅next
func (n *Nono) AndThen(next *Nono) *Nono {
	requireNonNil(next, "next")
	parent := n
	return onAssembly(newNono("AndThen", func(s Subscriber) {
		subscribeConcat(s, newSlicePuller([]*Nono{parent, next}), 1, ErrorModeImmediate)
	}))
}

// ============================================================================
// Concat 实现
// ============================================================================

// concatCoordinator 连接的状态机
//
// 拉取源、订阅下一个源、释放序列都只在排空循环中进行，wip保证同一时刻只有一个
// goroutine在循环内，同步完成的源不会造成递归。
type concatCoordinator struct {
	terminalGate
	downstream Subscriber
	puller     sourcePuller
	prefetch   int
	mode       ErrorMode

	wip     atomic.Int32
	active  atomic.Bool
	current subscriptionSlot

	errMu sync.Mutex
	errs  []error

	// 以下字段只在排空循环中访问
	queue     []*Nono
	exhausted bool
	outerErr  error
	released  bool
}

func subscribeConcat(s Subscriber, puller sourcePuller, prefetch int, mode ErrorMode) {
	c := &concatCoordinator{
		downstream: s,
		puller:     puller,
		prefetch:   prefetch,
		mode:       mode,
	}
	s.OnSubscribe(c)
	c.drain()
}

func (c *concatCoordinator) Cancel() {
	if c.cancel() {
		c.current.cancel()
		c.drain()
	}
}

func (c *concatCoordinator) IsCancelled() bool {
	return c.isCancelled()
}

func (c *concatCoordinator) drain() {
	if c.wip.Add(1) != 1 {
		return
	}

	missed := int32(1)
	for {
		if c.isDone() {
			c.release()
		} else if !c.active.Load() {
			c.subscribeNext()
		}

		missed = c.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (c *concatCoordinator) subscribeNext() {
	c.fill()

	if c.outerErr != nil && c.mode != ErrorModeEnd {
		c.failNow(c.outerErr)
		return
	}
	if len(c.queue) == 0 {
		c.finish()
		return
	}

	next := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]

	c.active.Store(true)
	next.subscribe(&concatInner{parent: c})

	// 当前源运行期间预取后续源
	c.fill()
	if c.outerErr != nil && c.mode == ErrorModeImmediate {
		c.failNow(c.outerErr)
	}
}

// fill 拉取源直到队列达到预取数量或序列结束
func (c *concatCoordinator) fill() {
	for !c.exhausted && len(c.queue) < c.prefetch {
		source, ok, err := c.puller.next()
		if err != nil {
			c.outerErr = err
			c.exhausted = true
			return
		}
		if !ok {
			c.exhausted = true
			return
		}
		c.queue = append(c.queue, source)
	}
}

// finish 所有源都已结束
func (c *concatCoordinator) finish() {
	c.errMu.Lock()
	errs := c.errs
	c.errs = nil
	c.errMu.Unlock()

	if c.outerErr != nil {
		errs = append(errs, c.outerErr)
	}
	if c.terminate() {
		c.release()
		deliverTerminal(c.downstream, combineErrors(errs))
	}
}

// failNow 立即失败，取消当前源
func (c *concatCoordinator) failNow(err error) {
	if c.terminate() {
		c.current.cancel()
		c.downstream.OnError(err)
		c.drain()
		return
	}
	if !c.isCancelled() {
		ReportError(err)
	}
}

// innerDone 当前源终止
func (c *concatCoordinator) innerDone(err error) {
	if err != nil {
		if c.mode != ErrorModeEnd {
			c.failNow(err)
			return
		}
		c.errMu.Lock()
		c.errs = append(c.errs, err)
		c.errMu.Unlock()
	}
	c.active.Store(false)
	c.drain()
}

// release 释放序列和已预取的源
func (c *concatCoordinator) release() {
	if c.released {
		return
	}
	c.released = true
	c.queue = nil
	c.puller.stop()
}

// concatInner 订阅当前源，每个源使用新的实例
type concatInner struct {
	parent *concatCoordinator
}

func (i *concatInner) conforms() {}

func (i *concatInner) OnSubscribe(sub Subscription) {
	i.parent.current.replace(sub)
}

func (i *concatInner) OnComplete() {
	i.parent.innerDone(nil)
}

func (i *concatInner) OnError(err error) {
	i.parent.innerDone(err)
}
