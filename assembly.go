package nono

import (
	"errors"
	"sync/atomic"
)

// ============================================================================
// 组装钩子 - 对标RxJava的onAssembly
// 进程级的调试/插桩接口，只在节点构建时生效，不属于核心算子代数
// ============================================================================

// AssemblyHook 在每个节点构建时调用，可返回包装后的节点
//
// 钩子内部需要包装节点时应使用Decorate，它不会再次触发钩子。
type AssemblyHook func(n *Nono) (*Nono, error)

var assemblyHook atomic.Pointer[AssemblyHook]

// SetOnAssembly 设置全局组装钩子，后写者生效；nil等同于ClearOnAssembly
func SetOnAssembly(hook AssemblyHook) {
	if hook == nil {
		assemblyHook.Store(nil)
		return
	}
	assemblyHook.Store(&hook)
}

// OnAssembly 返回当前的组装钩子，未设置时返回nil
func OnAssembly() AssemblyHook {
	if h := assemblyHook.Load(); h != nil {
		return *h
	}
	return nil
}

// ClearOnAssembly 清除全局组装钩子
func ClearOnAssembly() {
	assemblyHook.Store(nil)
}

// ChainAssemblyHooks 按顺序组合多个钩子，nil钩子被跳过
func ChainAssemblyHooks(hooks ...AssemblyHook) AssemblyHook {
	return func(n *Nono) (*Nono, error) {
		current := n
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			next, err := hook(current)
			if err != nil {
				return nil, err
			}
			if next == nil {
				return nil, errors.New("chained assembly hook returned a nil Nono")
			}
			current = next
		}
		return current, nil
	}
}

// onAssembly 对新构建的节点应用钩子
//
// 钩子返回错误、返回nil或panic时构建失败，以*AssemblyError panic，
// 不会有包装了一半的节点逃逸出去。
func onAssembly(n *Nono) *Nono {
	h := assemblyHook.Load()
	if h == nil {
		return n
	}

	var (
		result  *Nono
		hookErr error
	)
	if err := SafeExecute(func() { result, hookErr = (*h)(n) }); err != nil {
		hookErr = err
	}
	if hookErr == nil && result == nil {
		hookErr = errors.New("assembly hook returned a nil Nono")
	}
	if hookErr != nil {
		panic(&AssemblyError{Node: n.name, Cause: hookErr})
	}
	return result
}
