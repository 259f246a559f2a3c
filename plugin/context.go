package plugin

import (
	"go/token"
	"path/filepath"
	"slices"
)

// ContextInput 构造生成上下文所需的全部输入
type ContextInput struct {
	Module *Module
	Node   *Node
	Marker *Marker

	// 调用前文档中已累积的构建约束与 import
	Externs []string
	Imports []Import
}

// GenerateContext 生成上下文
// 构造后不可变，访问器返回副本；不会包含本次调用自己的输出
type GenerateContext struct {
	node   *Node
	marker *Marker

	fset        *token.FileSet
	position    token.Position
	path        string
	pkgName     string
	semantic    *Semantic
	compilation *Compilation
	projectRoot string
	modulePath  string

	externs []string
	imports []Import

	syntax *Syntax
}

// BuildContext 构造生成上下文
// 纯函数：externs/imports 按调用时刻复制
func BuildContext(in ContextInput) *GenerateContext {
	gctx := &GenerateContext{
		node:    in.Node,
		marker:  in.Marker,
		externs: slices.Clone(in.Externs),
		imports: slices.Clone(in.Imports),
	}
	if mod := in.Module; mod != nil {
		gctx.fset = mod.Fset
		gctx.path = mod.Path
		gctx.pkgName = mod.PackageName()
		gctx.semantic = mod.Semantic
		gctx.compilation = mod.Compilation
		gctx.projectRoot = mod.ProjectRoot
		gctx.modulePath = mod.ModulePath
	}
	gctx.position = token.Position{Filename: gctx.path}
	if gctx.fset != nil && in.Node != nil && in.Node.Pos.IsValid() {
		gctx.position = gctx.fset.Position(in.Node.Pos)
	}
	gctx.syntax = newSyntax(gctx.pkgName)
	return gctx
}

// Node 目标声明节点
func (c *GenerateContext) Node() *Node { return c.node }

// Marker 触发本次调用的标记
func (c *GenerateContext) Marker() *Marker { return c.marker }

// Fset 源文件的 FileSet，跨进程插件侧为 nil
func (c *GenerateContext) Fset() *token.FileSet { return c.fset }

// Position 返回目标节点的源码位置
func (c *GenerateContext) Position() token.Position { return c.position }

// FilePath 源文件路径
func (c *GenerateContext) FilePath() string { return c.path }

// FileName 源文件名（不含目录与扩展名）
func (c *GenerateContext) FileName() string {
	base := filepath.Base(c.path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// PackageName 源文件的包名
func (c *GenerateContext) PackageName() string { return c.pkgName }

// Semantic 语义信息，类型检查失败或未加载时为 nil
func (c *GenerateContext) Semantic() *Semantic { return c.semantic }

// Compilation 编译单元句柄，可能为 nil
func (c *GenerateContext) Compilation() *Compilation { return c.compilation }

// ProjectRoot go.mod 所在目录
func (c *GenerateContext) ProjectRoot() string { return c.projectRoot }

// ModulePath go.mod 中的 module 路径
func (c *GenerateContext) ModulePath() string { return c.modulePath }

// Externs 调用前已累积的构建约束
func (c *GenerateContext) Externs() []string { return slices.Clone(c.externs) }

// Imports 调用前已累积的 import
func (c *GenerateContext) Imports() []Import { return slices.Clone(c.imports) }

// HasImport 调用前是否已导入该路径
func (c *GenerateContext) HasImport(path string) bool {
	return slices.ContainsFunc(c.imports, func(imp Import) bool { return imp.Path == path })
}

// Syntax 代码构造能力
func (c *GenerateContext) Syntax() *Syntax { return c.syntax }
