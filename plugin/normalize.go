package plugin

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/imports"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/pkgresolver"
)

// PackageNamer 根据导入路径给出包的真实名称
type PackageNamer interface {
	PackageName(importPath string) string
}

type assumedNamer struct{}

func (assumedNamer) PackageName(importPath string) string {
	return pkgresolver.AssumedName(importPath)
}

// imports.LocalPrefix 是包级变量，并发格式化时需要串行设置
var localPrefixMu sync.Mutex

// Normalizer 输出规范化
// Format 只做结构格式化；Simplify 基于符号做精简；Normalize = Simplify(Format(x))，满足幂等
type Normalizer struct {
	localPrefix string
	namer       PackageNamer
	log         logrus.FieldLogger
}

// NormalizerOption 规范化选项
type NormalizerOption func(*Normalizer)

// WithLocalPrefix 本地 import 分组前缀，通常是目标项目的 module 路径
func WithLocalPrefix(prefix string) NormalizerOption {
	return func(n *Normalizer) { n.localPrefix = prefix }
}

// WithPackageNamer 指定包名解析器
func WithPackageNamer(namer PackageNamer) NormalizerOption {
	return func(n *Normalizer) {
		if namer != nil {
			n.namer = namer
		}
	}
}

func WithNormalizerLogger(l logrus.FieldLogger) NormalizerOption {
	return func(n *Normalizer) {
		if l != nil {
			n.log = l
		}
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		namer: assumedNamer{},
		log:   logging.Subsys("normalize"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize 格式化后精简
func (n *Normalizer) Normalize(src []byte) ([]byte, error) {
	formatted, err := n.Format(src)
	if err != nil {
		return nil, err
	}
	return n.Simplify(formatted)
}

// Format 结构格式化：缩进、空行、import 分组排序
func (n *Normalizer) Format(src []byte) ([]byte, error) {
	localPrefixMu.Lock()
	defer localPrefixMu.Unlock()

	prev := imports.LocalPrefix
	imports.LocalPrefix = n.localPrefix
	defer func() { imports.LocalPrefix = prev }()

	out, err := imports.Process("", src, &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "格式化生成代码失败")
	}
	return out, nil
}

// Simplify 基于符号的精简
//   - 别名缩短为包的真实名称（不与其他名称冲突时）
//   - 与真实名称相同的别名被去掉
//   - 未被引用的 import 被删除
//
// 之后重新格式化，重复的 import 在格式化时合并
func (n *Normalizer) Simplify(src []byte) ([]byte, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrap(err, "解析生成代码失败")
	}

	refs := packageRefs(file)

	// 相同的 import 视为一组，一起修改
	type importGroup struct {
		specs []*ast.ImportSpec
		local string
		path  string
	}
	var groups []*importGroup
	byKey := make(map[string]*importGroup)
	for _, spec := range file.Imports {
		local, path := n.localName(spec)
		key := local + " " + path
		if g, ok := byKey[key]; ok {
			g.specs = append(g.specs, spec)
			continue
		}
		g := &importGroup{specs: []*ast.ImportSpec{spec}, local: local, path: path}
		byKey[key] = g
		groups = append(groups, g)
	}

	// 第一步：删除未使用的 import
	changed := false
	var kept []*importGroup
	for _, g := range groups {
		if g.local != "_" && g.local != "." && len(refs[g.local]) == 0 {
			name := ""
			if g.specs[0].Name != nil {
				name = g.specs[0].Name.Name
			}
			astutil.DeleteNamedImport(fset, file, name, g.path)
			n.log.WithField("import", g.path).Debug("删除未使用的 import")
			changed = true
			continue
		}
		kept = append(kept, g)
	}
	if changed {
		collapseImports(file)
	}

	// 第二步：缩短别名，新名称不能与保留的 import、文件内标识符以及其他未解析的引用冲突
	taken := declaredNames(file, refs)
	for name, idents := range refs {
		taken[name] += len(idents)
	}
	for _, g := range kept {
		taken[g.local]++
	}
	for _, g := range kept {
		if g.specs[0].Name == nil || g.local == "_" || g.local == "." {
			continue
		}
		local := g.local
		actual := n.namer.PackageName(g.path)
		switch {
		case actual == local:
		case token.IsIdentifier(actual) && taken[actual] == 0:
			for _, ident := range refs[local] {
				ident.Name = actual
			}
			taken[actual] += len(refs[local]) + 1
			taken[local] -= len(refs[local]) + 1
			refs[actual], refs[local] = refs[local], nil
		default:
			continue
		}
		for _, spec := range g.specs {
			spec.Name = nil
		}
		changed = true
	}

	if !changed {
		return n.Format(src)
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return nil, errors.Wrap(err, "打印生成代码失败")
	}
	return n.Format(buf.Bytes())
}

// collapseImports 只剩一个 import 的块去掉括号
// spec 移到 import 关键字所在行，带注释的 spec 保持原样
func collapseImports(file *ast.File) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.IMPORT {
			continue
		}
		if len(gen.Specs) != 1 || !gen.Lparen.IsValid() {
			continue
		}
		spec := gen.Specs[0].(*ast.ImportSpec)
		if spec.Doc != nil || spec.Comment != nil {
			continue
		}
		if spec.Name != nil {
			spec.Name.NamePos = gen.Lparen
		}
		spec.Path.ValuePos = gen.Lparen
		spec.EndPos = token.NoPos
		gen.Lparen = token.NoPos
		gen.Rparen = token.NoPos
	}
}

func (n *Normalizer) localName(spec *ast.ImportSpec) (name, path string) {
	path, _ = strconv.Unquote(spec.Path.Value)
	if spec.Name != nil {
		return spec.Name.Name, path
	}
	return n.namer.PackageName(path), path
}

// packageRefs 收集 X.Sel 中未在文件内解析的 X，即对导入包的引用
func packageRefs(file *ast.File) map[string][]*ast.Ident {
	refs := make(map[string][]*ast.Ident)
	ast.Inspect(file, func(node ast.Node) bool {
		sel, ok := node.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if x, ok := sel.X.(*ast.Ident); ok && x.Obj == nil {
			refs[x.Name] = append(refs[x.Name], x)
		}
		return true
	})
	return refs
}

// declaredNames 统计文件中除包引用以外出现的所有标识符
// 缩短别名时新名称不能与它们冲突
func declaredNames(file *ast.File, refs map[string][]*ast.Ident) map[string]int {
	pkgIdents := make(map[*ast.Ident]bool)
	for _, idents := range refs {
		for _, ident := range idents {
			pkgIdents[ident] = true
		}
	}
	names := make(map[string]int)
	for _, decl := range file.Decls {
		if gen, ok := decl.(*ast.GenDecl); ok && gen.Tok == token.IMPORT {
			continue
		}
		ast.Inspect(decl, func(node ast.Node) bool {
			if ident, ok := node.(*ast.Ident); ok && !pkgIdents[ident] {
				names[ident.Name]++
			}
			return true
		})
	}
	return names
}
