package plugin

import (
	"go/ast"
	"go/build/constraint"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FragmentsFromSource 将一段完整的 Go 源代码拆分为片段
// 这使得使用 gg、jennifer 或手写模板的生成器都能产出统一的结果
//
//   - 文件头的 //go:build 约束 -> Externs
//   - import 声明 -> Imports
//   - 只包含 _ 的 var 声明（如 var _ I = (*T)(nil)）-> Attributes
//   - 其余顶层声明 -> Members，保留文档注释与原有排版
//
// 源码缺少 package 子句时按声明列表解析
func FragmentsFromSource(source []byte) (*GenerateResult, error) {
	src := string(source)
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if err != nil {
		// 只有声明、没有 package 子句的片段
		const prefix = "package p\n\n"
		file2, err2 := parser.ParseFile(fset, "", prefix+src, parser.ParseComments)
		if err2 != nil {
			return nil, errors.Wrap(err, "解析源代码失败")
		}
		file, src = file2, prefix+src
	}

	result := NewGenerateResult()

	for _, expr := range buildConstraints(file) {
		result.AddExtern(expr)
	}

	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "import 路径 %s", imp.Path.Value)
		}
		if imp.Name != nil {
			result.AddNamedImport(imp.Name.Name, path)
		} else {
			result.AddImport(path)
		}
	}

	tokFile := fset.File(file.Pos())
	for _, decl := range file.Decls {
		if gen, ok := decl.(*ast.GenDecl); ok && gen.Tok == token.IMPORT {
			continue
		}
		text := declText(tokFile, src, decl)
		if isAttribute(decl) {
			result.AddAttribute(text)
		} else {
			result.AddMember(text)
		}
	}

	return result, nil
}

// buildConstraints 提取 package 子句之前的 //go:build 表达式
func buildConstraints(file *ast.File) []string {
	var exprs []string
	for _, group := range file.Comments {
		if group.Pos() >= file.Package {
			break
		}
		for _, c := range group.List {
			if !constraint.IsGoBuild(c.Text) {
				continue
			}
			expr, err := constraint.Parse(c.Text)
			if err != nil {
				continue
			}
			exprs = append(exprs, expr.String())
		}
	}
	return exprs
}

// declText 截取声明的原始文本，包含文档注释
func declText(tokFile *token.File, src string, decl ast.Decl) string {
	start := decl.Pos()
	switch d := decl.(type) {
	case *ast.GenDecl:
		if d.Doc != nil {
			start = d.Doc.Pos()
		}
	case *ast.FuncDecl:
		if d.Doc != nil {
			start = d.Doc.Pos()
		}
	}
	return strings.TrimSpace(src[tokFile.Offset(start):tokFile.Offset(decl.End())])
}

// isAttribute 判断是否为只用于编译期断言的 var _ 声明
func isAttribute(decl ast.Decl) bool {
	gen, ok := decl.(*ast.GenDecl)
	if !ok || gen.Tok != token.VAR || len(gen.Specs) == 0 {
		return false
	}
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			return false
		}
		for _, name := range vs.Names {
			if name.Name != "_" {
				return false
			}
		}
	}
	return true
}

// MustFragmentsFromSource 是 FragmentsFromSource 的 panic 版本
func MustFragmentsFromSource(source []byte) *GenerateResult {
	result, err := FragmentsFromSource(source)
	if err != nil {
		panic(err)
	}
	return result
}
