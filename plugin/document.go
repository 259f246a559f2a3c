package plugin

import (
	"bytes"
	"go/build/constraint"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Preamble 每个生成文件开头的固定注释
const Preamble = `// Code generated by markgen. DO NOT EDIT.
//
// This file is produced from source markers; changes made by hand
// will be lost the next time the generator runs.
`

// Document 单个模块的生成文档
// 同一时间只有一个写者：流水线在串行循环中持有它
type Document struct {
	pkgName string

	externs    []string
	imports    []Import
	attributes []string
	members    []string
}

// NewDocument 创建文档，预置源文件自身的构建约束与 import
// 源文件的 _ 与 . 导入不会带入生成文件
func NewDocument(mod *Module) *Document {
	doc := &Document{pkgName: mod.PackageName()}
	if mod.File == nil {
		return doc
	}
	doc.externs = buildConstraints(mod.File)
	for _, spec := range mod.File.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		imp := Import{Path: path}
		if spec.Name != nil {
			if spec.Name.Name == "_" || spec.Name.Name == "." {
				continue
			}
			imp.Name = spec.Name.Name
		}
		doc.imports = append(doc.imports, imp)
	}
	return doc
}

// Add 追加一次调用的结果，各部分保持调用顺序
func (d *Document) Add(result *GenerateResult) {
	if result == nil {
		return
	}
	d.externs = append(d.externs, result.Externs...)
	d.imports = append(d.imports, result.Imports...)
	d.attributes = append(d.attributes, result.Attributes...)
	d.members = append(d.members, result.Members...)
}

// Externs 当前累积的构建约束副本
func (d *Document) Externs() []string { return slices.Clone(d.externs) }

// Imports 当前累积的 import 副本
func (d *Document) Imports() []Import { return slices.Clone(d.imports) }

// Attributes 当前累积的包级断言副本
func (d *Document) Attributes() []string { return slices.Clone(d.attributes) }

// Members 当前累积的顶层声明副本
func (d *Document) Members() []string { return slices.Clone(d.members) }

// IsEmpty 没有声明也没有断言时不产生输出
// 只有构建约束与 import 的文档没有意义
func (d *Document) IsEmpty() bool {
	return len(d.members) == 0 && len(d.attributes) == 0
}

// Synthesize 拼装文档源码，未经格式化
// 顺序：前言、构建约束、package、import、断言、声明
func (d *Document) Synthesize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Preamble)
	buf.WriteString("\n")

	if len(d.externs) > 0 {
		expr, err := combineConstraints(d.externs)
		if err != nil {
			return nil, err
		}
		buf.WriteString("//go:build ")
		buf.WriteString(expr.String())
		buf.WriteString("\n\n")
	}

	buf.WriteString("package ")
	buf.WriteString(d.pkgName)
	buf.WriteString("\n")

	if len(d.imports) > 0 {
		buf.WriteString("\nimport (\n")
		for _, imp := range d.imports {
			buf.WriteString("\t")
			buf.WriteString(imp.String())
			buf.WriteString("\n")
		}
		buf.WriteString(")\n")
	}

	for _, attr := range d.attributes {
		buf.WriteString("\n")
		buf.WriteString(strings.TrimSpace(attr))
		buf.WriteString("\n")
	}
	for _, member := range d.members {
		buf.WriteString("\n")
		buf.WriteString(strings.TrimSpace(member))
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// Finalize 生成最终输出
// 文档为空时返回 (nil, false, nil)
func (d *Document) Finalize(n *Normalizer) ([]byte, bool, error) {
	if d.IsEmpty() {
		return nil, false, nil
	}
	src, err := d.Synthesize()
	if err != nil {
		return nil, false, err
	}
	if n == nil {
		n = NewNormalizer()
	}
	out, err := n.Normalize(src)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// combineConstraints 用 && 连接所有约束，按累积顺序，不去重
func combineConstraints(exprs []string) (constraint.Expr, error) {
	var result constraint.Expr
	for _, s := range exprs {
		s = strings.TrimSpace(s)
		s = strings.TrimSpace(strings.TrimPrefix(s, "//go:build"))
		expr, err := constraint.Parse("//go:build " + s)
		if err != nil {
			return nil, errors.Wrapf(err, "构建约束 %q", s)
		}
		if result == nil {
			result = expr
		} else {
			result = &constraint.AndExpr{X: result, Y: expr}
		}
	}
	return result, nil
}
