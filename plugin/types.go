package plugin

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/packages"
)

// NodeKind 声明节点的类型
type NodeKind int

const (
	NodeModule    NodeKind = iota + 1 // 源文件本身
	NodeNamespace                     // 带括号的 type ( ... ) 声明组
	NodeType                          // 类型声明
)

func (k NodeKind) String() string {
	switch k {
	case NodeModule:
		return "module"
	case NodeNamespace:
		return "namespace"
	case NodeType:
		return "type"
	default:
		return "unknown"
	}
}

// Node 可携带标记的声明节点（只读视图）
type Node struct {
	Kind NodeKind
	Name string    // 模块为包名，声明组为首个类型名，类型为类型名
	Pos  token.Pos // 声明位置

	// Doc 标记所在的文档注释
	Doc *ast.CommentGroup

	// Decl 对应的 AST 节点: *ast.File / *ast.GenDecl / *ast.TypeSpec
	// 跨进程插件侧为 nil
	Decl ast.Node

	Parent *Node

	// Object 类型检查得到的对象，仅 NodeType 且存在语义信息时非空
	Object types.Object

	// Source 节点的源码文本，传给进程外插件
	Source string
}

// Path 返回从模块根开始的节点路径，用于日志
func (n *Node) Path() string {
	if n == nil {
		return ""
	}
	if n.Parent == nil {
		return n.Name
	}
	return n.Parent.Path() + "." + n.Name
}

// Marker 节点上解析出的标记
type Marker struct {
	Name string            // 全限定名，例如 Demo.Gen 或 example.com/markers.Gen
	Args map[string]string // 参数，key 统一为小写
	Raw  string            // 原始标记文本
	Pos  token.Pos
}

// Import 一条 import 声明
type Import struct {
	Name string `json:"name,omitempty"` // 别名，为空表示使用包名
	Path string `json:"path"`
}

func (i Import) String() string {
	if i.Name == "" {
		return `"` + i.Path + `"`
	}
	return i.Name + ` "` + i.Path + `"`
}

// Semantic 单个包的语义信息
type Semantic struct {
	Package *types.Package
	Info    *types.Info
}

// Compilation 整个编译单元的句柄
type Compilation struct {
	Packages []*packages.Package
}

// Lookup 按导入路径查找已加载的包
func (c *Compilation) Lookup(pkgPath string) *packages.Package {
	if c == nil {
		return nil
	}
	var found *packages.Package
	packages.Visit(c.Packages, func(p *packages.Package) bool {
		if found != nil {
			return false
		}
		if p.PkgPath == pkgPath {
			found = p
			return false
		}
		return true
	}, nil)
	return found
}

// MarkerQuery 查询节点上的标记，由前端实现
type MarkerQuery func(node *Node) ([]*Marker, error)

// Module 前端解析出的单个源文件
type Module struct {
	Path        string // 源文件路径
	Fset        *token.FileSet
	File        *ast.File
	Semantic    *Semantic    // 可能为 nil
	Compilation *Compilation // 可能为 nil
	ProjectRoot string       // go.mod 所在目录
	ModulePath  string       // go.mod 中的 module 路径

	// Query 标记查询，为 nil 时按注释文本解析
	Query MarkerQuery
}

// PackageName 返回源文件的包名
func (m *Module) PackageName() string {
	if m == nil || m.File == nil || m.File.Name == nil {
		return ""
	}
	return m.File.Name.Name
}

// Markers 查询节点上的标记
func (m *Module) Markers(node *Node) ([]*Marker, error) {
	if m.Query != nil {
		return m.Query(node)
	}
	return CommentMarkers(m.File)(node)
}

// GenerateResult 单次调用产生的片段
// 各列表按生成器追加的顺序保存
type GenerateResult struct {
	Externs    []string `json:"externs,omitempty"`    // 构建约束表达式，如 linux && amd64
	Imports    []Import `json:"imports,omitempty"`    // import 声明
	Attributes []string `json:"attributes,omitempty"` // 包级断言，如 var _ I = (*T)(nil)
	Members    []string `json:"members,omitempty"`    // 顶层声明
}

// NewGenerateResult 创建新的生成结果
func NewGenerateResult() *GenerateResult {
	return &GenerateResult{}
}

// AddExtern 添加构建约束
func (r *GenerateResult) AddExtern(expr string) *GenerateResult {
	r.Externs = append(r.Externs, expr)
	return r
}

// AddImport 添加 import
func (r *GenerateResult) AddImport(path string) *GenerateResult {
	r.Imports = append(r.Imports, Import{Path: path})
	return r
}

// AddNamedImport 添加带别名的 import
func (r *GenerateResult) AddNamedImport(name, path string) *GenerateResult {
	r.Imports = append(r.Imports, Import{Name: name, Path: path})
	return r
}

// AddAttribute 添加包级断言
func (r *GenerateResult) AddAttribute(decl string) *GenerateResult {
	r.Attributes = append(r.Attributes, decl)
	return r
}

// AddMember 添加顶层声明
func (r *GenerateResult) AddMember(decl string) *GenerateResult {
	r.Members = append(r.Members, decl)
	return r
}

// IsEmpty 没有任何片段
func (r *GenerateResult) IsEmpty() bool {
	return r == nil || len(r.Externs)+len(r.Imports)+len(r.Attributes)+len(r.Members) == 0
}
