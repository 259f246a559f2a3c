package plugin

import (
	"go/ast"
	"go/token"
	"iter"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
)

// Scanner 标记扫描器
// 前序遍历源文件，只进入可携带标记的作用域：模块根、type ( ... ) 声明组、类型声明
type Scanner struct {
	log logrus.FieldLogger
}

// ScannerOption 扫描器选项
type ScannerOption func(*Scanner)

func WithScannerLogger(l logrus.FieldLogger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		log: logging.Subsys("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Nodes 返回声明节点序列
// 序列是惰性的，每次迭代都会重新遍历，可重复使用
func (s *Scanner) Nodes(mod *Module) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		if mod == nil || mod.File == nil {
			return
		}
		root := &Node{
			Kind: NodeModule,
			Name: mod.PackageName(),
			Pos:  mod.File.Package,
			Doc:  mod.File.Doc,
			Decl: mod.File,
		}
		if !yield(root) {
			return
		}
		for _, decl := range mod.File.Decls {
			// 剪枝判断在进入子节点之前完成，函数体与变量初始化表达式不会被访问
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			if !s.walkTypeDecl(mod, root, gen, yield) {
				return
			}
		}
	}
}

// walkTypeDecl 遍历一个 type 声明，返回 false 表示调用方已停止迭代
func (s *Scanner) walkTypeDecl(mod *Module, root *Node, decl *ast.GenDecl, yield func(*Node) bool) bool {
	parent := root

	// 带括号的声明组本身也是一个可携带标记的容器
	if decl.Lparen.IsValid() {
		group := &Node{
			Kind:   NodeNamespace,
			Name:   groupName(decl),
			Pos:    decl.Pos(),
			Doc:    decl.Doc,
			Decl:   decl,
			Parent: root,
		}
		if !yield(group) {
			return false
		}
		parent = group
	}

	for _, spec := range decl.Specs {
		typeSpec, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		doc := typeSpec.Doc
		// 未分组的 type 声明，注释挂在 GenDecl 上
		if doc == nil && !decl.Lparen.IsValid() {
			doc = decl.Doc
		}
		node := &Node{
			Kind:   NodeType,
			Name:   typeSpec.Name.Name,
			Pos:    typeSpec.Pos(),
			Doc:    doc,
			Decl:   typeSpec,
			Parent: parent,
		}
		if mod.Semantic != nil && mod.Semantic.Info != nil {
			node.Object = mod.Semantic.Info.Defs[typeSpec.Name]
		}
		if !yield(node) {
			return false
		}
	}
	return true
}

// Scan 返回 (节点, 标记) 序列，跳过没有标记的节点
// 标记查询失败时视为没有标记，不中断整个运行
func (s *Scanner) Scan(mod *Module) iter.Seq2[*Node, []*Marker] {
	return func(yield func(*Node, []*Marker) bool) {
		for node := range s.Nodes(mod) {
			markers, err := mod.Markers(node)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					logfields.Module: mod.Path,
					logfields.Node:   node.Path(),
				}).Debug("标记查询失败，按无标记处理")
				continue
			}
			if len(markers) == 0 {
				continue
			}
			if s.log != nil {
				if l, ok := s.log.(*logrus.Entry); ok && l.Logger.IsLevelEnabled(logrus.TraceLevel) {
					l.WithField(logfields.Node, node.Path()).Trace(spew.Sdump(markers))
				}
			}
			if !yield(node, markers) {
				return
			}
		}
	}
}

func groupName(decl *ast.GenDecl) string {
	for _, spec := range decl.Specs {
		if ts, ok := spec.(*ast.TypeSpec); ok {
			return ts.Name.Name
		}
	}
	return "group"
}
