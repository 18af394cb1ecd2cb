package core

import (
	"sort"
	"sync"
	"sync/atomic"

	"govalflow/internal/valueflow"
)

// FunctionRegistry 跨文件的函数定义注册表。写入在互斥锁下整表复制
// 后原子发布，查询无锁读快照；适合注册集中、查询高频的扫描流程。
type FunctionRegistry struct {
	mu       sync.Mutex
	snapshot atomic.Value // map[string]*valueflow.Function
}

// NewFunctionRegistry 创建空注册表
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{}
	r.snapshot.Store(make(map[string]*valueflow.Function))
	return r
}

// Register 登记函数定义；重名（重载、多文件同名）保留先注册的
func (r *FunctionRegistry) Register(fns ...*valueflow.Function) {
	if len(fns) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snapshot.Load().(map[string]*valueflow.Function)
	next := make(map[string]*valueflow.Function, len(old)+len(fns))
	for k, v := range old {
		next[k] = v
	}
	for _, fn := range fns {
		if fn == nil || fn.Name == "" {
			continue
		}
		if _, ok := next[fn.Name]; !ok {
			next[fn.Name] = fn
		}
	}
	r.snapshot.Store(next)
}

// Resolve 按名称查函数定义，实现求值器的函数解析接口
func (r *FunctionRegistry) Resolve(name string) (*valueflow.Function, bool) {
	m := r.snapshot.Load().(map[string]*valueflow.Function)
	fn, ok := m[name]
	return fn, ok
}

// Len 已注册函数数量
func (r *FunctionRegistry) Len() int {
	return len(r.snapshot.Load().(map[string]*valueflow.Function))
}

// Names 全部已注册函数名（升序）
func (r *FunctionRegistry) Names() []string {
	m := r.snapshot.Load().(map[string]*valueflow.Function)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
