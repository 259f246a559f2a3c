// Package templategen 内置的模板生成器
//
// 在类型上标注 @Template(file=...) 后，用 text/template 渲染模板，
// 渲染结果作为片段并入该文件的生成输出：
//
//	// @Template(file=templates/repo.tmpl)
//	// @Define(name=Table, tableName="users")
//	type User struct { ... }
//
// 模板中可使用 Sprig 函数以及 import、receiver、exported 等辅助函数
package templategen

import (
	"bytes"
	"context"
	"go/ast"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/pkg/errors"

	"github.com/donutnomad/markgen/plugin"
)

const (
	generatorName = "templategen"
	MarkerName    = "Template"

	defineMarker = "Define"
	importMarker = "Import"
)

// Params @Template 标记参数
// 标记参数中不能出现右括号，较复杂的模板应放在文件中
type Params struct {
	File string `param:"name=file,required=false,default=,description=模板文件路径（相对源文件目录或项目根目录）"`
	Text string `param:"name=text,required=false,default=,description=内联模板"`
}

// ImportParams @Import 标记参数，为 @Define 中的类型引用声明包别名
type ImportParams struct {
	Alias string `param:"name=alias,required=true,description=包别名"`
	Path  string `param:"name=path,required=true,description=完整包路径"`
}

// Generator 模板生成器
type Generator struct{}

var _ plugin.Generator = (*Generator)(nil)

// Registration 返回内置注册项
func Registration() plugin.Registration {
	return plugin.NewRegistrationWithParams(plugin.Metadata{
		Name:        generatorName,
		Marker:      MarkerName,
		Description: "用 text/template 渲染模板生成代码",
	}, &Generator{}, Params{})
}

func (g *Generator) Generate(ctx context.Context, gctx *plugin.GenerateContext, sink plugin.ProgressSink) (*plugin.GenerateResult, error) {
	var params Params
	if err := plugin.DecodeArgs(gctx.Marker(), &params); err != nil {
		return nil, err
	}
	if (params.File == "") == (params.Text == "") {
		return nil, errors.New("file 与 text 必须且只能指定一个")
	}

	node := gctx.Node()
	file := rootFile(node)
	if file == nil {
		return nil, errors.Errorf("%s 没有可用的语法树", node.Path())
	}

	data := collectTemplateData(gctx, file, sink)

	tmpl, err := g.loadTemplate(gctx, params, data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(err, "执行模板失败")
	}

	result, err := gctx.Syntax().FromSource(buf.String())
	if err != nil {
		return nil, errors.Wrap(err, "解析模板输出失败")
	}
	for _, imp := range data.Imports.All() {
		result.Imports = append(result.Imports, imp)
	}
	return result, nil
}

// loadTemplate 创建模板，文件模板会同时加载同目录下的 _*.tmpl 基础模板
func (g *Generator) loadTemplate(gctx *plugin.GenerateContext, params Params, data *TemplateData) (*template.Template, error) {
	funcs := customFuncs(data)

	if params.Text != "" {
		tmpl, err := template.New(gctx.Node().Name).
			Funcs(sprig.TxtFuncMap()).
			Funcs(funcs).
			Parse(params.Text)
		if err != nil {
			return nil, errors.Wrap(err, "解析内联模板失败")
		}
		return tmpl, nil
	}

	path, err := resolveTemplatePath(params.File, gctx.FilePath(), gctx.ProjectRoot())
	if err != nil {
		return nil, err
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "_*.tmpl"))
	files = append(files, path)

	tmpl, err := template.New(filepath.Base(path)).
		Funcs(sprig.TxtFuncMap()).
		Funcs(funcs).
		ParseFiles(files...)
	if err != nil {
		return nil, errors.Wrapf(err, "解析模板 %s 失败", path)
	}
	return tmpl, nil
}

// resolveTemplatePath 依次尝试绝对路径、源文件目录、项目根目录
func resolveTemplatePath(templatePath, srcFilePath, projectRoot string) (string, error) {
	if filepath.IsAbs(templatePath) {
		if fileExists(templatePath) {
			return templatePath, nil
		}
		return "", errors.Errorf("模板文件不存在: %s", templatePath)
	}

	candidates := []string{filepath.Join(filepath.Dir(srcFilePath), templatePath)}
	if projectRoot != "" {
		candidates = append(candidates, filepath.Join(projectRoot, templatePath))
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", errors.Errorf("模板文件不存在: %s (已查找 %s)", templatePath, strings.Join(candidates, ", "))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// rootFile 沿父节点找到模块根对应的语法树
func rootFile(node *plugin.Node) *ast.File {
	for n := node; n != nil; n = n.Parent {
		if f, ok := n.Decl.(*ast.File); ok {
			return f
		}
	}
	return nil
}

// customFuncs 返回自定义模板函数
func customFuncs(data *TemplateData) template.FuncMap {
	return template.FuncMap{
		"typeName": func(t TypeRef) string { return t.TypeName },
		"fullType": func(t TypeRef) string {
			if t.PkgPath != "" {
				data.Imports.AddAlias(t.PkgPath, t.PkgAlias)
			}
			return t.FullType
		},
		"isString": func(t TypeRef) bool { return t.IsString },
		"stringVal": func(t TypeRef) string {
			if t.IsString {
				return t.StringVal
			}
			return ""
		},

		"import":      data.Imports.Add,
		"importAlias": data.Imports.AddAlias,

		"receiver": func(name string) string {
			if name == "" {
				return "r"
			}
			return strings.ToLower(name[:1])
		},
		"exported": func(name string) string {
			if name == "" {
				return ""
			}
			return strings.ToUpper(name[:1]) + name[1:]
		},
		"column": columnName,
		"unexported": func(name string) string {
			if name == "" {
				return ""
			}
			return strings.ToLower(name[:1]) + name[1:]
		},

		"formatParams": func(params []ParamData) string {
			parts := make([]string, 0, len(params))
			for _, p := range params {
				parts = append(parts, strings.TrimSpace(p.Name+" "+p.Type))
			}
			return strings.Join(parts, ", ")
		},
		"formatReturns": func(returns []ReturnData) string {
			if len(returns) == 1 && returns[0].Name == "" {
				return returns[0].Type
			}
			if len(returns) == 0 {
				return ""
			}
			parts := make([]string, 0, len(returns))
			for _, r := range returns {
				parts = append(parts, strings.TrimSpace(r.Name+" "+r.Type))
			}
			return "(" + strings.Join(parts, ", ") + ")"
		},
	}
}
