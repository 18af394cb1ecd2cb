package core

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"govalflow/internal/valueflow"
)

// defaultLibraryYAML 内置知识库随二进制发布，运行期不可被篡改
//
//go:embed library.yaml
var defaultLibraryYAML []byte

// libraryFile YAML 根结构
type libraryFile struct {
	Functions  []functionEntry `yaml:"functions"`
	Containers containerEntry  `yaml:"containers"`
}

type functionEntry struct {
	Name   string `yaml:"name"`
	Pure   bool   `yaml:"pure"`
	Return string `yaml:"return,omitempty"`
}

type containerEntry struct {
	Size  []string `yaml:"size"`
	Empty []string `yaml:"empty"`
	Item  []string `yaml:"item"`
	Begin []string `yaml:"begin"`
	End   []string `yaml:"end"`
}

// KnowledgeBase 函数与容器知识库，实现求值器的 Library 接口。
// 返回值模板在加载时一次性编译，之后整体不可变，可并发共享。
type KnowledgeBase struct {
	pure    map[string]bool
	returns map[string]*valueflow.ReturnExpr
	yields  map[string]valueflow.Yield
}

// DefaultKnowledgeBase 加载内置知识库
func DefaultKnowledgeBase() *KnowledgeBase {
	kb, err := NewKnowledgeBase(defaultLibraryYAML)
	if err != nil {
		// 内置知识库随代码发布，加载失败属于构建错误
		panic(fmt.Sprintf("embedded library: %v", err))
	}
	return kb
}

// LoadKnowledgeBase 在内置知识库之上叠加用户配置文件
func LoadKnowledgeBase(paths ...string) (*KnowledgeBase, error) {
	blobs := [][]byte{defaultLibraryYAML}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read library %s: %w", p, err)
		}
		blobs = append(blobs, data)
	}
	return NewKnowledgeBase(blobs...)
}

// NewKnowledgeBase 解析一组 YAML 数据，后加载的条目覆盖先加载的
func NewKnowledgeBase(blobs ...[]byte) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		pure:    make(map[string]bool),
		returns: make(map[string]*valueflow.ReturnExpr),
		yields:  make(map[string]valueflow.Yield),
	}
	for _, blob := range blobs {
		var f libraryFile
		if err := yaml.Unmarshal(blob, &f); err != nil {
			return nil, fmt.Errorf("parse library: %w", err)
		}
		if err := kb.merge(&f); err != nil {
			return nil, err
		}
	}
	return kb, nil
}

func (kb *KnowledgeBase) merge(f *libraryFile) error {
	for _, fn := range f.Functions {
		if fn.Name == "" {
			continue
		}
		if fn.Pure {
			kb.pure[fn.Name] = true
		}
		if fn.Return != "" {
			tmpl, err := CompileReturnExpr(fn.Return)
			if err != nil {
				return fmt.Errorf("function %s: %w", fn.Name, err)
			}
			kb.returns[fn.Name] = tmpl
		}
	}
	for _, m := range f.Containers.Size {
		kb.yields[m] = valueflow.YieldSize
	}
	for _, m := range f.Containers.Empty {
		kb.yields[m] = valueflow.YieldEmpty
	}
	for _, m := range f.Containers.Item {
		kb.yields[m] = valueflow.YieldItem
	}
	for _, m := range f.Containers.Begin {
		kb.yields[m] = valueflow.YieldIteratorBegin
	}
	for _, m := range f.Containers.End {
		kb.yields[m] = valueflow.YieldIteratorEnd
	}
	return nil
}

// IsPure 函数无副作用且返回值只依赖实参
func (kb *KnowledgeBase) IsPure(name string) bool {
	return kb.pure[name]
}

// ReturnValue 取预编译的返回值模板
func (kb *KnowledgeBase) ReturnValue(name string) (*valueflow.ReturnExpr, bool) {
	tmpl, ok := kb.returns[name]
	return tmpl, ok
}

// ContainerYield 成员名对应的容器产出类别
func (kb *KnowledgeBase) ContainerYield(member string) valueflow.Yield {
	return kb.yields[member]
}
