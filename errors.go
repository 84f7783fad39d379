// Error types and the process-wide error sink
// 错误类型、严重性分类与全局错误汇
package nono

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
)

// ============================================================================
// 错误分类
// ============================================================================

// ErrorKind 错误种类
type ErrorKind int

const (
	// KindSource 叶子源或子节点传播的领域错误
	KindSource ErrorKind = iota
	// KindInvalidArgument 构造期参数违规
	KindInvalidArgument
	// KindComposite 延迟错误模式下的多个错误聚合
	KindComposite
	// KindTimeout 超时
	KindTimeout
	// KindProtocolViolation 订阅者破坏了终止协议
	KindProtocolViolation
	// KindAssembly 组装钩子失败
	KindAssembly
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindComposite:
		return "composite"
	case KindTimeout:
		return "timeout"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindAssembly:
		return "assembly"
	default:
		return "source"
	}
}

// KindOf 返回错误链中第一个可识别的错误种类，未识别的都是KindSource
func KindOf(err error) ErrorKind {
	var (
		invalid   *InvalidArgumentError
		composite *CompositeError
		timeout   *TimeoutError
		violation *ProtocolViolationError
		assembly  *AssemblyError
	)
	switch {
	case err == nil:
		return KindSource
	case errors.As(err, &violation):
		return KindProtocolViolation
	case errors.As(err, &assembly):
		return KindAssembly
	case errors.As(err, &invalid):
		return KindInvalidArgument
	case errors.As(err, &composite):
		return KindComposite
	case errors.As(err, &timeout):
		return KindTimeout
	default:
		return KindSource
	}
}

// Severity 错误严重性
type Severity int

const (
	// Recoverable 可以转换为终止错误或交给错误汇
	Recoverable Severity = iota
	// Fatal 不允许吞掉，必须继续向上抛出
	Fatal
)

// fatalError 错误可以通过实现该接口声明自己是致命的
type fatalError interface {
	Fatal() bool
}

// Classify 将recover得到的值转换为错误并判定严重性
func Classify(recovered any) (error, Severity) {
	var err error
	switch v := recovered.(type) {
	case nil:
		return nil, Recoverable
	case error:
		err = v
	default:
		err = newPanicError(v)
	}

	var fe fatalError
	if errors.As(err, &fe) && fe.Fatal() {
		return err, Fatal
	}
	return err, Recoverable
}

// ============================================================================
// 错误类型定义
// ============================================================================

// InvalidArgumentError 构造期参数错误
type InvalidArgumentError struct {
	Argument string
	Message  string
}

func (e *InvalidArgumentError) Error() string {
	if e.Argument == "" {
		return "nono: invalid argument: " + e.Message
	}
	return fmt.Sprintf("nono: invalid argument %s: %s", e.Argument, e.Message)
}

// NewInvalidArgumentError 创建参数错误
func NewInvalidArgumentError(argument, message string) *InvalidArgumentError {
	return &InvalidArgumentError{Argument: argument, Message: message}
}

// TimeoutError 超时错误
type TimeoutError struct {
	message string
}

func (e *TimeoutError) Error() string {
	return e.message
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string) *TimeoutError {
	return &TimeoutError{message: message}
}

// CompositeError 组合错误，用于包含多个错误
type CompositeError struct {
	errors []error
}

func (e *CompositeError) Error() string {
	if len(e.errors) == 0 {
		return "composite error with no errors"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "composite error (%d): ", len(e.errors))
	for i, err := range e.errors {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Errors 获取所有错误
func (e *CompositeError) Errors() []error {
	out := make([]error, len(e.errors))
	copy(out, e.errors)
	return out
}

// Unwrap 让errors.Is/As能看到所有被聚合的错误
func (e *CompositeError) Unwrap() []error {
	return e.errors
}

// NewCompositeError 创建组合错误，nil错误会被忽略
func NewCompositeError(errs ...error) *CompositeError {
	kept := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	return &CompositeError{errors: kept}
}

// combineErrors 没有错误返回nil，一个错误原样返回，多个错误返回组合错误
func combineErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return NewCompositeError(errs...)
	}
}

// ProtocolViolationError 终止协议被破坏
type ProtocolViolationError struct {
	Message string
	Cause   error
}

func (e *ProtocolViolationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("nono: protocol violation: %s: %v", e.Message, e.Cause)
	}
	return "nono: protocol violation: " + e.Message
}

func (e *ProtocolViolationError) Unwrap() error { return e.Cause }

// Fatal 协议违规总是致命的
func (e *ProtocolViolationError) Fatal() bool { return true }

// AssemblyError 组装钩子失败，节点没有被构建
type AssemblyError struct {
	Node  string
	Cause error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("nono: assembly hook failed for %s: %v", e.Node, e.Cause)
}

func (e *AssemblyError) Unwrap() error { return e.Cause }

// PanicError 包装非error类型的panic值及其堆栈
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func newPanicError(v any) *PanicError {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}

// ============================================================================
// 全局错误汇
// ============================================================================

// ErrorHandler 处理无法投递的错误
type ErrorHandler func(err error)

var errorHandler atomic.Pointer[ErrorHandler]

// SetErrorHandler 设置全局错误汇，nil恢复默认的日志处理
func SetErrorHandler(handler ErrorHandler) {
	if handler == nil {
		errorHandler.Store(nil)
		return
	}
	errorHandler.Store(&handler)
}

// ReportError 将无法投递的错误交给全局错误汇
func ReportError(err error) {
	if err == nil {
		return
	}
	if h := errorHandler.Load(); h != nil {
		// 处理器自身的panic不能反过来破坏调用方
		herr := SafeExecute(func() { (*h)(err) })
		if herr == nil {
			return
		}
		err = NewCompositeError(err, herr)
	}
	logUndeliverable(err)
}

func logUndeliverable(err error) {
	l := Logger()
	l.Error().
		Err(err).
		Str("kind", KindOf(err).String()).
		Msg("undeliverable error")
}

// ============================================================================
// 参数校验
// ============================================================================

func requireNonNil[T any](v *T, argument string) {
	if v == nil {
		panic(NewInvalidArgumentError(argument, "must not be nil"))
	}
}

func requireFunc(isNil bool, argument string) {
	if isNil {
		panic(NewInvalidArgumentError(argument, "must not be nil"))
	}
}

func requirePositive(v int, argument string) {
	if v < 1 {
		panic(NewInvalidArgumentError(argument, fmt.Sprintf("must be positive (got %d)", v)))
	}
}

func requireNonNegative(v int, argument string) {
	if v < 0 {
		panic(NewInvalidArgumentError(argument, fmt.Sprintf("must not be negative (got %d)", v)))
	}
}

func requireScheduler(s Scheduler) {
	if s == nil {
		panic(NewInvalidArgumentError("scheduler", "must not be nil"))
	}
}

func requireSources(sources []*Nono) {
	for i, s := range sources {
		if s == nil {
			panic(NewInvalidArgumentError(fmt.Sprintf("sources[%d]", i), "must not be nil"))
		}
	}
}
