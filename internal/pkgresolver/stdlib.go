package pkgresolver

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
)

// IsStdLib 判断是否是标准库
// 与 goimports 相同的约定：第一段路径不含点的视为标准库
func IsStdLib(importPath string) bool {
	if importPath == "" {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}

// goroot 返回 GOROOT，优先使用 go/build 的默认值
func goroot() string {
	if root := build.Default.GOROOT; root != "" {
		return root
	}
	return os.Getenv("GOROOT")
}

// stdLibDir 返回标准库包的磁盘路径
func stdLibDir(importPath string) (string, bool) {
	root := goroot()
	if root == "" {
		return "", false
	}
	dir := filepath.Join(root, "src", filepath.FromSlash(importPath))
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}
