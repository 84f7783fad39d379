// Error type tests
// 错误类型、分类与错误汇测试
package nono

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindSource},
		{"普通错误", errors.New("plain"), KindSource},
		{"参数错误", NewInvalidArgumentError("x", "bad"), KindInvalidArgument},
		{"组合错误", NewCompositeError(errors.New("a"), errors.New("b")), KindComposite},
		{"超时", NewTimeoutError("slow"), KindTimeout},
		{"协议违规", &ProtocolViolationError{Message: "twice"}, KindProtocolViolation},
		{"组装失败", &AssemblyError{Node: "Timer", Cause: errors.New("hook")}, KindAssembly},
		{"包装的超时", fmt.Errorf("wrapped: %w", NewTimeoutError("slow")), KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "source", KindSource.String())
	assert.Equal(t, "invalid_argument", KindInvalidArgument.String())
	assert.Equal(t, "composite", KindComposite.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "protocol_violation", KindProtocolViolation.String())
	assert.Equal(t, "assembly", KindAssembly.String())
}

func TestCompositeError(t *testing.T) {
	a := errors.New("a")
	b := errors.New("b")
	ce := NewCompositeError(a, nil, b)

	assert.Equal(t, []error{a, b}, ce.Errors(), "nil错误应该被忽略")
	assert.Equal(t, "composite error (2): a; b", ce.Error())
	assert.ErrorIs(t, ce, a)
	assert.ErrorIs(t, ce, b)

	errs := ce.Errors()
	errs[0] = nil
	assert.Same(t, a, ce.Errors()[0], "Errors应该返回副本")

	assert.Equal(t, "composite error with no errors", NewCompositeError().Error())
}

func TestCombineErrors(t *testing.T) {
	a := errors.New("a")
	assert.NoError(t, combineErrors(nil))
	assert.Same(t, a, combineErrors([]error{a}))
	assert.IsType(t, &CompositeError{}, combineErrors([]error{a, a}))
}

func TestClassify(t *testing.T) {
	err, severity := Classify("text")
	assert.Equal(t, Recoverable, severity)
	assert.IsType(t, &PanicError{}, err)

	err, severity = Classify(fmt.Errorf("wrapped: %w", &ProtocolViolationError{Message: "x"}))
	assert.Equal(t, Fatal, severity)
	assert.Error(t, err)

	err, severity = Classify(nil)
	assert.NoError(t, err)
	assert.Equal(t, Recoverable, severity)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "nono: invalid argument timeout: must be positive", NewInvalidArgumentError("timeout", "must be positive").Error())
	assert.Equal(t, "nono: invalid argument: bad", NewInvalidArgumentError("", "bad").Error())

	cause := errors.New("hook failed")
	ae := &AssemblyError{Node: "Timer", Cause: cause}
	assert.ErrorIs(t, ae, cause)
	assert.Contains(t, ae.Error(), "Timer")

	pv := &ProtocolViolationError{Message: "twice", Cause: cause}
	assert.ErrorIs(t, pv, cause)
	assert.True(t, pv.Fatal())
}

func TestErrorHandler(t *testing.T) {
	t.Run("处理器收到错误", func(t *testing.T) {
		sink := captureErrors(t)
		boom := errors.New("boom")
		ReportError(boom)
		ReportError(nil)

		require.Len(t, sink.Errors(), 1)
		assert.Same(t, boom, sink.Errors()[0])
	})

	t.Run("处理器panic不会传播", func(t *testing.T) {
		SetErrorHandler(func(error) { panic("handler") })
		t.Cleanup(func() { SetErrorHandler(nil) })

		assert.NotPanics(t, func() { ReportError(errors.New("boom")) })
	})

	t.Run("默认处理器记录日志", func(t *testing.T) {
		SetErrorHandler(nil)
		assert.NotPanics(t, func() { ReportError(errors.New("boom")) })
	})
}
