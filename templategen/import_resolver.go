package templategen

import (
	"go/ast"
	"go/types"
	"path"
	"strings"

	"github.com/donutnomad/markgen/internal/pkgresolver"
	"github.com/donutnomad/markgen/plugin"
)

// ImportResolver 解析 @Define 值中的类型引用
type ImportResolver struct {
	// 当前文件的 import: 本地名 -> 导入路径
	fileImports map[string]string
	// @Import 标记定义的别名
	markerAliases map[string]string
}

// NewImportResolver 用源文件的 import 声明创建解析器
func NewImportResolver(file *ast.File) *ImportResolver {
	return &ImportResolver{
		fileImports:   plugin.ImportNames(file),
		markerAliases: make(map[string]string),
	}
}

// AddAlias 添加 @Import 标记定义的别名
func (r *ImportResolver) AddAlias(alias, path string) {
	r.markerAliases[alias] = path
}

// ResolveTypeRef 解析类型引用
// 标记解析时已去除引号，这里按启发式规则判断：
//   - 全限定路径 (github.com/pkg/errors.Frame) 直接拆分
//   - 包前缀依次在文件 import、@Import 别名、常用标准库中查找
//   - Go 内置类型视为类型引用
//   - 其余视为字符串值
func (r *ImportResolver) ResolveTypeRef(value string) TypeRef {
	ref := TypeRef{Raw: value}

	if strings.Contains(value, "/") {
		if lastDot := strings.LastIndex(value, "."); lastDot > strings.LastIndex(value, "/") {
			ref.PkgPath = value[:lastDot]
			ref.TypeName = value[lastDot+1:]
			ref.PkgAlias = pkgresolver.AssumedName(ref.PkgPath)
			ref.FullType = ref.PkgAlias + "." + ref.TypeName
			return ref
		}
	}

	if prefix, typeName, ok := strings.Cut(value, "."); ok && prefix != "" && isIdent(typeName) {
		importPath, found := r.fileImports[prefix]
		if !found {
			importPath, found = r.markerAliases[prefix]
		}
		if !found {
			importPath, found = stdLibPackages[prefix]
		}
		if found {
			ref.PkgPath = importPath
			ref.PkgAlias = prefix
			ref.TypeName = typeName
			ref.FullType = prefix + "." + typeName
			return ref
		}
	}

	if isBuiltinType(value) {
		ref.TypeName = value
		ref.FullType = value
		return ref
	}

	// 包前缀无法解析，视为字符串（例如 "v1.0.0"）
	ref.IsString = true
	ref.StringVal = value
	ref.FullType = value
	return ref
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}

// isBuiltinType 检查是否是 Go 内置类型
func isBuiltinType(name string) bool {
	obj := types.Universe.Lookup(name)
	_, ok := obj.(*types.TypeName)
	return ok
}

// stdLibPackages 包名与路径末段不同，或常用于 @Define 的标准库包
var stdLibPackages = func() map[string]string {
	m := make(map[string]string)
	for _, p := range []string{
		"bytes", "context", "errors", "fmt", "io", "math/big", "net", "net/http", "net/url",
		"os", "regexp", "strings", "sync", "time", "database/sql", "database/sql/driver",
		"encoding/json", "encoding/xml", "log/slog", "io/fs", "reflect",
	} {
		m[path.Base(p)] = p
	}
	return m
}()
