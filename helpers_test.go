package nono

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// 测试辅助
// ============================================================================

// testTimeout 等待异步终止的上限
const testTimeout = time.Second

// errorRecorder 捕获发往全局错误汇的错误
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// captureErrors 在测试期间替换全局错误汇
func captureErrors(t *testing.T) *errorRecorder {
	t.Helper()
	r := &errorRecorder{}
	SetErrorHandler(r.record)
	t.Cleanup(func() { SetErrorHandler(nil) })
	return r
}

// probe 由测试手动控制终止时机的源，记录每次订阅
type probe struct {
	node *Nono

	mu   sync.Mutex
	subs []*probeSubscription
}

// probeSubscription 一次订阅；终止方法不做任何过滤，用于验证操作符自身的保护
type probeSubscription struct {
	downstream Subscriber
	cancels    atomic.Int32
}

func (s *probeSubscription) Cancel()           { s.cancels.Add(1) }
func (s *probeSubscription) IsCancelled() bool { return s.cancels.Load() > 0 }
func (s *probeSubscription) complete()         { s.downstream.OnComplete() }
func (s *probeSubscription) fail(err error)    { s.downstream.OnError(err) }

func newProbe(name string) *probe {
	p := &probe{}
	p.node = newNono(name, func(s Subscriber) {
		ps := &probeSubscription{downstream: s}
		p.mu.Lock()
		p.subs = append(p.subs, ps)
		p.mu.Unlock()
		s.OnSubscribe(ps)
	})
	return p
}

func (p *probe) subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *probe) last() *probeSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) == 0 {
		return nil
	}
	return p.subs[len(p.subs)-1]
}

// countingNono 记录被订阅次数的Nono
func countingNono(counter *atomic.Int32, inner *Nono) *Nono {
	return Defer(func() *Nono {
		counter.Add(1)
		return inner
	})
}

// eventually 轮询直到条件成立
func eventually(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("条件未在%s内满足: %s", timeout, msg)
}
