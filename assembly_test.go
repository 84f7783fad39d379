// Assembly hook tests
// 组装钩子测试
package nono

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnAssembly(t *testing.T) {
	t.Cleanup(ClearOnAssembly)

	t.Run("每个构建的节点都经过钩子", func(t *testing.T) {
		var names []string
		SetOnAssembly(func(n *Nono) (*Nono, error) {
			names = append(names, n.Name())
			return n, nil
		})
		defer ClearOnAssembly()

		Complete().Delay(0).Timeout(time.Second)
		assert.Equal(t, []string{"Complete", "Delay", "Timeout"}, names)
	})

	t.Run("钩子可以包装节点", func(t *testing.T) {
		var subscribed int
		SetOnAssembly(func(n *Nono) (*Nono, error) {
			return n.Decorate(func(s Subscriber) Subscriber {
				subscribed++
				return s
			}), nil
		})
		defer ClearOnAssembly()

		Complete().Test().AssertComplete(t)
		assert.Equal(t, 1, subscribed)
	})

	t.Run("钩子失败时构建panic", func(t *testing.T) {
		hookErr := errors.New("hook")
		SetOnAssembly(func(*Nono) (*Nono, error) { return nil, hookErr })
		defer ClearOnAssembly()

		defer func() {
			r := recover()
			require.NotNil(t, r)
			var ae *AssemblyError
			require.ErrorAs(t, r.(error), &ae)
			assert.Equal(t, "Never", ae.Node)
			assert.ErrorIs(t, ae, hookErr)
		}()
		Never()
	})

	t.Run("钩子返回nil", func(t *testing.T) {
		SetOnAssembly(func(*Nono) (*Nono, error) { return nil, nil })
		defer ClearOnAssembly()
		assert.Panics(t, func() { Never() })
	})

	t.Run("清除后不再调用", func(t *testing.T) {
		called := false
		SetOnAssembly(func(n *Nono) (*Nono, error) {
			called = true
			return n, nil
		})
		ClearOnAssembly()
		Never()
		assert.False(t, called)
		assert.Nil(t, OnAssembly())
	})
}

func TestChainAssemblyHooks(t *testing.T) {
	var order []string
	hook := func(name string) AssemblyHook {
		return func(n *Nono) (*Nono, error) {
			order = append(order, name)
			return n, nil
		}
	}

	n := Never()
	got, err := ChainAssemblyHooks(hook("a"), nil, hook("b"))(n)
	require.NoError(t, err)
	assert.Same(t, n, got)
	assert.Equal(t, []string{"a", "b"}, order)

	_, err = ChainAssemblyHooks(func(*Nono) (*Nono, error) { return nil, nil })(n)
	assert.Error(t, err)
}
