package templategen

import (
	"go/ast"
	"path/filepath"
	"slices"
	"strings"

	"github.com/donutnomad/markgen/internal/pkgresolver"
	"github.com/donutnomad/markgen/plugin"
)

// TemplateData 提供给模板的数据
type TemplateData struct {
	File FileInfo

	Name string // 目标节点名
	Kind string // module / namespace / type

	// Fields 结构体字段，其他类型为空
	Fields []FieldData
	// Methods 接口方法签名，或同一文件中以该类型为 receiver 的方法
	Methods []MethodSig

	// Defines @Define 定义的元数据，模板访问: .Defines.Table.tablename
	Defines DefineGroup
	// Args @Template 标记的全部参数
	Args map[string]string

	// Imports 模板中动态添加的 import
	Imports *ImportManager
}

// FileInfo 文件信息
type FileInfo struct {
	Path        string // 源文件完整路径
	Dir         string // 所在目录
	Name        string // 文件名（不含扩展名）
	PackageName string // 包名
}

// MethodSig 方法签名
type MethodSig struct {
	Name    string
	Params  []ParamData
	Returns []ReturnData
	// Pointer receiver 是否为指针，接口方法恒为 false
	Pointer bool
}

// DefineGroup 按 name 分组的定义
type DefineGroup map[string]map[string]TypeRef

// TypeRef 类型引用
type TypeRef struct {
	Raw       string // 原始值
	IsString  bool   // 是否为字符串值
	StringVal string // 字符串值（当 IsString=true）
	TypeName  string // 类型名 (如 Reader, Helper)
	PkgPath   string // 完整包路径
	PkgAlias  string // 使用的别名
	FullType  string // 完整类型表达式 (如 io.Reader)
}

func (t TypeRef) String() string { return t.FullType }

// FieldData 字段信息
type FieldData struct {
	Name    string
	Column  string // 按 GORM 默认规则得到的列名
	Type    string
	Tag     string
	Comment string
}

type ParamData struct {
	Name string
	Type string
}

type ReturnData struct {
	Name string // 可能为空
	Type string
}

// ImportManager 管理模板渲染过程中的 import，按添加顺序输出
type ImportManager struct {
	imports []plugin.Import
}

func NewImportManager() *ImportManager {
	return &ImportManager{}
}

// Add 添加 import，返回包名供模板引用
func (m *ImportManager) Add(path string) string {
	m.add(plugin.Import{Path: path})
	return pkgresolver.AssumedName(path)
}

// AddAlias 添加带别名的 import，返回别名
func (m *ImportManager) AddAlias(path, alias string) string {
	if alias == pkgresolver.AssumedName(path) {
		alias = ""
	}
	m.add(plugin.Import{Name: alias, Path: path})
	if alias == "" {
		return pkgresolver.AssumedName(path)
	}
	return alias
}

func (m *ImportManager) add(imp plugin.Import) {
	if !slices.Contains(m.imports, imp) {
		m.imports = append(m.imports, imp)
	}
}

// All 返回所有 import 的副本
func (m *ImportManager) All() []plugin.Import {
	return slices.Clone(m.imports)
}

// collectTemplateData 从目标节点及其所在文件收集模板数据
func collectTemplateData(gctx *plugin.GenerateContext, file *ast.File, sink plugin.ProgressSink) *TemplateData {
	node := gctx.Node()
	path := gctx.FilePath()
	data := &TemplateData{
		File: FileInfo{
			Path:        path,
			Dir:         filepath.Dir(path),
			Name:        gctx.FileName(),
			PackageName: gctx.PackageName(),
		},
		Name:    node.Name,
		Kind:    node.Kind.String(),
		Args:    gctx.Marker().Args,
		Imports: NewImportManager(),
	}

	if spec, ok := node.Decl.(*ast.TypeSpec); ok {
		data.Fields = extractFields(spec)
		data.Methods = extractInterfaceMethods(spec)
		if _, isInterface := spec.Type.(*ast.InterfaceType); !isInterface {
			data.Methods = extractReceiverMethods(file, spec.Name.Name)
		}
	}

	resolver := NewImportResolver(file)
	var markers []*plugin.Marker
	if node.Doc != nil {
		markers = plugin.ParseMarkers(node.Doc.Text(), nil)
	}
	for _, m := range markers {
		if m.Name != importMarker {
			continue
		}
		var p ImportParams
		if err := plugin.DecodeArgs(m, &p); err != nil {
			sink.Report(plugin.Diagnostic{Severity: plugin.SevWarning, Message: "忽略 @Import: " + err.Error()})
			continue
		}
		resolver.AddAlias(p.Alias, p.Path)
	}
	data.Defines = parseDefines(markers, resolver, sink)
	return data
}

// parseDefines 把 @Define(name=X, k=v) 按 name 分组
func parseDefines(markers []*plugin.Marker, resolver *ImportResolver, sink plugin.ProgressSink) DefineGroup {
	defines := make(DefineGroup)
	for _, m := range markers {
		if m.Name != defineMarker {
			continue
		}
		name := m.Args["name"]
		if name == "" {
			sink.Report(plugin.Diagnostic{Severity: plugin.SevWarning, Message: "@Define 缺少 name 参数: " + m.Raw})
			continue
		}
		if defines[name] == nil {
			defines[name] = make(map[string]TypeRef)
		}
		for k, v := range m.Args {
			if k != "name" {
				defines[name][k] = resolver.ResolveTypeRef(v)
			}
		}
	}
	return defines
}

func extractFields(spec *ast.TypeSpec) []FieldData {
	structType, ok := spec.Type.(*ast.StructType)
	if !ok || structType.Fields == nil {
		return nil
	}

	var fields []FieldData
	for _, field := range structType.Fields.List {
		fd := FieldData{Type: exprToString(field.Type)}
		if field.Tag != nil {
			fd.Tag = field.Tag.Value
		}
		if field.Comment != nil {
			fd.Comment = strings.TrimSpace(field.Comment.Text())
		}
		// 嵌入字段以类型名作为字段名
		if len(field.Names) == 0 {
			fd.Name = strings.TrimPrefix(fd.Type, "*")
			if i := strings.LastIndex(fd.Name, "."); i >= 0 {
				fd.Name = fd.Name[i+1:]
			}
			fd.Column = columnName(fd.Name)
			fields = append(fields, fd)
			continue
		}
		for _, name := range field.Names {
			fd.Name = name.Name
			fd.Column = columnName(fd.Name)
			fields = append(fields, fd)
		}
	}
	return fields
}

func extractInterfaceMethods(spec *ast.TypeSpec) []MethodSig {
	interfaceType, ok := spec.Type.(*ast.InterfaceType)
	if !ok || interfaceType.Methods == nil {
		return nil
	}

	var methods []MethodSig
	for _, method := range interfaceType.Methods.List {
		funcType, ok := method.Type.(*ast.FuncType)
		if !ok || len(method.Names) == 0 {
			continue
		}
		params, returns := extractParamsAndReturns(funcType)
		methods = append(methods, MethodSig{Name: method.Names[0].Name, Params: params, Returns: returns})
	}
	return methods
}

// extractReceiverMethods 收集文件中 receiver 为 typeName 的方法
func extractReceiverMethods(file *ast.File, typeName string) []MethodSig {
	var methods []MethodSig
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || len(fn.Recv.List) == 0 {
			continue
		}
		recv := fn.Recv.List[0].Type
		star, pointer := recv.(*ast.StarExpr)
		if pointer {
			recv = star.X
		}
		// 泛型 receiver: T[K]
		if idx, ok := recv.(*ast.IndexExpr); ok {
			recv = idx.X
		} else if idx, ok := recv.(*ast.IndexListExpr); ok {
			recv = idx.X
		}
		if ident, ok := recv.(*ast.Ident); !ok || ident.Name != typeName {
			continue
		}
		params, returns := extractParamsAndReturns(fn.Type)
		methods = append(methods, MethodSig{Name: fn.Name.Name, Params: params, Returns: returns, Pointer: pointer})
	}
	return methods
}

func extractParamsAndReturns(funcType *ast.FuncType) ([]ParamData, []ReturnData) {
	var params []ParamData
	var returns []ReturnData

	if funcType.Params != nil {
		for _, param := range funcType.Params.List {
			typeStr := exprToString(param.Type)
			if len(param.Names) == 0 {
				params = append(params, ParamData{Type: typeStr})
				continue
			}
			for _, name := range param.Names {
				params = append(params, ParamData{Name: name.Name, Type: typeStr})
			}
		}
	}

	if funcType.Results != nil {
		for _, result := range funcType.Results.List {
			typeStr := exprToString(result.Type)
			if len(result.Names) == 0 {
				returns = append(returns, ReturnData{Type: typeStr})
				continue
			}
			for _, name := range result.Names {
				returns = append(returns, ReturnData{Name: name.Name, Type: typeStr})
			}
		}
	}

	return params, returns
}

// exprToString 将类型表达式转换为源码文本
func exprToString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return exprToString(e.X) + "." + e.Sel.Name
	case *ast.StarExpr:
		return "*" + exprToString(e.X)
	case *ast.ArrayType:
		if e.Len == nil {
			return "[]" + exprToString(e.Elt)
		}
		return "[" + exprToString(e.Len) + "]" + exprToString(e.Elt)
	case *ast.MapType:
		return "map[" + exprToString(e.Key) + "]" + exprToString(e.Value)
	case *ast.InterfaceType:
		if e.Methods == nil || len(e.Methods.List) == 0 {
			return "any"
		}
		return "interface{...}"
	case *ast.FuncType:
		params, returns := extractParamsAndReturns(e)
		var ps, rs []string
		for _, p := range params {
			ps = append(ps, p.Type)
		}
		for _, r := range returns {
			rs = append(rs, r.Type)
		}
		s := "func(" + strings.Join(ps, ", ") + ")"
		switch len(rs) {
		case 0:
		case 1:
			s += " " + rs[0]
		default:
			s += " (" + strings.Join(rs, ", ") + ")"
		}
		return s
	case *ast.ChanType:
		switch e.Dir {
		case ast.SEND:
			return "chan<- " + exprToString(e.Value)
		case ast.RECV:
			return "<-chan " + exprToString(e.Value)
		}
		return "chan " + exprToString(e.Value)
	case *ast.Ellipsis:
		return "..." + exprToString(e.Elt)
	case *ast.IndexExpr:
		return exprToString(e.X) + "[" + exprToString(e.Index) + "]"
	case *ast.IndexListExpr:
		args := make([]string, 0, len(e.Indices))
		for _, idx := range e.Indices {
			args = append(args, exprToString(idx))
		}
		return exprToString(e.X) + "[" + strings.Join(args, ", ") + "]"
	case *ast.BasicLit:
		return e.Value
	default:
		return "any"
	}
}
