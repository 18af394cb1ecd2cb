package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
)

// ParserPool 管理 tree-sitter Parser 实例池
// 使用 sync.Pool 允许每个 goroutine 获取独立的 Parser，消除全局锁瓶颈
type ParserPool struct {
	cPool   sync.Pool
	cppPool sync.Pool
}

// NewParserPool 创建新的 Parser Pool
func NewParserPool() *ParserPool {
	return &ParserPool{
		cPool: sync.Pool{
			New: func() interface{} {
				parser := sitter.NewParser()
				parser.SetLanguage(c.GetLanguage())
				return parser
			},
		},
		cppPool: sync.Pool{
			New: func() interface{} {
				parser := sitter.NewParser()
				parser.SetLanguage(cpp.GetLanguage())
				return parser
			},
		},
	}
}

// globalParserPool 全局 Parser Pool 实例
var globalParserPool = NewParserPool()

// GetParser 从 Pool 获取对应语言的 Parser（无需锁）
func GetParser(language string) *sitter.Parser {
	if language == "cpp" {
		return globalParserPool.cppPool.Get().(*sitter.Parser)
	}
	return globalParserPool.cPool.Get().(*sitter.Parser)
}

// PutParser 将 Parser 归还到 Pool（无需锁）
func PutParser(language string, parser *sitter.Parser) {
	// 重置 Parser 状态以便重用
	parser.Reset()
	if language == "cpp" {
		globalParserPool.cppPool.Put(parser)
	} else {
		globalParserPool.cPool.Put(parser)
	}
}

// ParsedUnit 表示一个已解析的代码单元
type ParsedUnit struct {
	FilePath string
	Root     *sitter.Node
	Source   []byte
	Tree     *sitter.Tree
	Language string
}

// Copy 创建 ParsedUnit 的副本（克隆 Tree 以支持并发访问）
func (u *ParsedUnit) Copy() *ParsedUnit {
	treeCopy := u.Tree.Copy()
	return &ParsedUnit{
		FilePath: u.FilePath,
		Root:     treeCopy.RootNode(),
		Source:   u.Source, // 源码只读，可以共享
		Tree:     treeCopy,
		Language: u.Language,
	}
}

// Text 返回节点对应的源码文本
func (u *ParsedUnit) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(u.Source)
}

// LanguageFor 根据文件扩展名判断解析语言（"c" 或 "cpp"）
func LanguageFor(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".c":
		return "c", nil
	case ".cpp", ".cxx", ".cc", ".c++", ".hpp", ".hxx", ".hh", ".h++":
		return "cpp", nil
	case ".h":
		// .h 文件默认按 C++ 解析，兼容两种头文件
		return "cpp", nil
	default:
		return "", fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// GetLanguage 根据文件扩展名获取对应的解析器语言
func GetLanguage(filename string) (*sitter.Language, error) {
	lang, err := LanguageFor(filename)
	if err != nil {
		return nil, err
	}
	if lang == "cpp" {
		return cpp.GetLanguage(), nil
	}
	return c.GetLanguage(), nil
}

// ParseFile 解析单个文件
func ParseFile(ctx context.Context, filePath string) (*ParsedUnit, error) {
	// 读取源文件
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	language, err := LanguageFor(filePath)
	if err != nil {
		return nil, err
	}

	unit, err := ParseSource(ctx, source, language)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", filePath, err)
	}
	unit.FilePath = filePath
	return unit, nil
}

// ParseSource 解析内存中的源码（language 为 "c" 或 "cpp"）
func ParseSource(ctx context.Context, source []byte, language string) (*ParsedUnit, error) {
	parser := GetParser(language)
	defer PutParser(language, parser)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}

	return &ParsedUnit{
		FilePath: "<memory>",
		Root:     tree.RootNode(),
		Source:   source,
		Tree:     tree,
		Language: language,
	}, nil
}
