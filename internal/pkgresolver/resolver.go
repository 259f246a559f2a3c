package pkgresolver

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
)

// Resolver 导入路径 -> 真实包名
type Resolver struct {
	cache       *nameCache
	projectRoot string // 项目根目录（包含 go.mod）
	modulePath  string
}

// New 创建解析器，projectRoot 可为空
func New(projectRoot string) *Resolver {
	r := &Resolver{
		cache:       newNameCache(),
		projectRoot: projectRoot,
	}
	if projectRoot != "" {
		r.modulePath, _ = ModulePath(projectRoot)
	}
	return r
}

// PackageName 获取导入路径对应的真实包名
// 无法从磁盘确定时退化为 AssumedName
//
// 示例：
//
//	"fmt" → "fmt"
//	"net/http" → "http"
//	"github.com/samber/lo" → "lo"
//	"gopkg.in/yaml.v3" → "yaml"
func (r *Resolver) PackageName(importPath string) string {
	if importPath == "" {
		return ""
	}
	if name, ok := r.cache.get(importPath); ok {
		return name
	}

	name := AssumedName(importPath)
	if dir, ok := r.diskPath(importPath); ok {
		if actual, err := ReadPackageName(dir); err == nil {
			name = actual
		}
	}

	r.cache.set(importPath, name)
	return name
}

// diskPath 将导入路径解析为磁盘路径
func (r *Resolver) diskPath(importPath string) (string, bool) {
	if IsStdLib(importPath) {
		return stdLibDir(importPath)
	}

	// 项目内部包
	if r.modulePath != "" && (importPath == r.modulePath || strings.HasPrefix(importPath, r.modulePath+"/")) {
		rel := strings.TrimPrefix(strings.TrimPrefix(importPath, r.modulePath), "/")
		return filepath.Join(r.projectRoot, filepath.FromSlash(rel)), true
	}

	dir, err := findThirdPartyPackage(importPath)
	if err != nil {
		return "", false
	}
	return dir, true
}

// ModulePath 读取 projectRoot/go.mod 中的 module 路径
func ModulePath(projectRoot string) (string, error) {
	goModPath := filepath.Join(projectRoot, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return "", err
	}
	path := modfile.ModulePath(content)
	if path == "" {
		return "", errors.Errorf("未在 %s 中找到模块名称", goModPath)
	}
	return path, nil
}

// findThirdPartyPackage 在 GOMODCACHE / GOPATH 中查找第三方包
func findThirdPartyPackage(importPath string) (string, error) {
	goPath := os.Getenv("GOPATH")
	goModCache := os.Getenv("GOMODCACHE")

	if goModCache == "" {
		if goPath == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", errors.Wrap(err, "无法获取用户主目录")
			}
			goPath = filepath.Join(homeDir, "go")
		}
		goModCache = filepath.Join(filepath.SplitList(goPath)[0], "pkg", "mod")
	}

	// 从最长的前缀开始尝试模块根路径
	parts := strings.Split(importPath, "/")
	for i := len(parts); i >= 1; i-- {
		modulePath := strings.Join(parts[:i], "/")
		subPath := strings.Join(parts[i:], "/")

		escaped, err := module.EscapePath(modulePath)
		if err != nil {
			continue
		}

		matches, err := filepath.Glob(filepath.Join(goModCache, filepath.FromSlash(escaped)+"@*"))
		if err != nil || len(matches) == 0 {
			continue
		}

		// 字典序最后一个通常版本号较高
		dir := matches[len(matches)-1]
		if subPath != "" {
			dir = filepath.Join(dir, filepath.FromSlash(subPath))
		}
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	if goPath != "" {
		dir := filepath.Join(filepath.SplitList(goPath)[0], "src", filepath.FromSlash(importPath))
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}

	return "", errors.Errorf("未找到第三方包 %s", importPath)
}

// AssumedName 根据导入路径猜测包名
// 去掉 /vN 主版本后缀、gopkg.in 的 .vN 后缀以及 go- 前缀，非法字符截断
func AssumedName(importPath string) string {
	base := importPath
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		if isMajorVersion(base[idx+1:]) && idx > 0 {
			base = base[:idx]
		}
	}
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.Index(base, ".v"); idx > 0 && isMajorVersion(base[idx+1:]) {
		base = base[:idx]
	}
	base = strings.TrimPrefix(base, "go-")

	for i, r := range base {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return base[:i]
		}
	}
	return base
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
