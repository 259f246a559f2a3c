package pkgresolver

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ReadPackageName 读取目录中非测试文件的 package 声明
// 多个文件声明不同包名时（例如带 //go:build ignore 的 main 文件），取出现次数最多的
func ReadPackageName(pkgDir string) (string, error) {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return "", errors.Wrapf(err, "读取目录失败 %s", pkgDir)
	}

	var goFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() &&
			strings.HasSuffix(name, ".go") &&
			!strings.HasSuffix(name, "_test.go") {
			goFiles = append(goFiles, name)
		}
	}
	if len(goFiles) == 0 {
		return "", errors.Errorf("目录 %s 中没有找到 Go 源文件", pkgDir)
	}
	sort.Strings(goFiles)

	counts := make(map[string]int)
	best := ""
	for _, file := range goFiles {
		name, err := parsePackageClause(filepath.Join(pkgDir, file))
		if err != nil {
			continue
		}
		counts[name]++
		if best == "" || counts[name] > counts[best] {
			best = name
		}
	}
	if best == "" {
		return "", errors.Errorf("目录 %s 中没有可解析的 package 声明", pkgDir)
	}
	return best, nil
}

// parsePackageClause 只解析包声明
func parsePackageClause(filename string) (string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, nil, parser.PackageClauseOnly)
	if err != nil {
		return "", errors.Wrapf(err, "解析文件 %s 失败", filename)
	}
	if f.Name == nil {
		return "", errors.Errorf("文件 %s 中没有 package 声明", filename)
	}
	return f.Name.Name, nil
}
