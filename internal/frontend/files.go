package frontend

import (
	"bufio"
	"context"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/donutnomad/markgen/internal/pkgresolver"
	"github.com/donutnomad/markgen/plugin"
)

// FindProjectRoot 从 dir 向上查找包含 go.mod 的目录，返回目录与 module 路径
func FindProjectRoot(dir string) (string, string, error) {
	current := dir
	for {
		if _, err := os.Stat(filepath.Join(current, "go.mod")); err == nil {
			modulePath, err := pkgresolver.ModulePath(current)
			if err != nil {
				return "", "", err
			}
			return current, modulePath, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", "", errors.Errorf("%s 不在 Go 模块内", dir)
		}
		current = parent
	}
}

// ParseFile 只做语法解析，src 为 nil 时从磁盘读取
func ParseFile(path string, src any) (*plugin.Module, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrapf(err, "解析 %s 失败", path)
	}
	mod := &plugin.Module{Path: path, Fset: fset, File: file}
	fillProject(mod)
	return mod, nil
}

// ParseFiles 按模式收集文件并并行解析，不需要 go 命令
// 结果按路径排序；已生成的文件被跳过。没有标记的文件也会返回，用于清理过期的输出
func ParseFiles(ctx context.Context, patterns []string, tests bool) ([]*plugin.Module, error) {
	files, err := CollectFiles(patterns, tests)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		mods []*plugin.Module
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mod, err := ParseFile(path, nil)
			if err != nil {
				return err
			}
			if !isCandidate(path, mod.File, tests) {
				return nil
			}
			mu.Lock()
			mods = append(mods, mod)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].Path < mods[j].Path })
	return mods, nil
}

// CollectFiles 收集所有需要扫描的文件
// 支持: ./... ./pkg/... ./pkg /abs/path/file.go
func CollectFiles(patterns []string, tests bool) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, pattern := range patterns {
		recursive := strings.HasSuffix(pattern, "/...")
		if recursive {
			pattern = strings.TrimSuffix(pattern, "/...")
		}

		absPath, err := filepath.Abs(pattern)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, errors.Wrapf(err, "路径 %s", pattern)
		}
		if !info.IsDir() {
			if strings.HasSuffix(absPath, ".go") {
				add(absPath)
			}
			continue
		}

		err = filepath.WalkDir(absPath, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != absPath && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
					return filepath.SkipDir
				}
				if !recursive && path != absPath {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") {
				return nil
			}
			if !tests && strings.HasSuffix(path, "_test.go") {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// quickMatchRegex 快速匹配注释中的 @Name 或输出指令
var quickMatchRegex = regexp.MustCompile(`(^|\s|//|/\*)@[A-Za-z_][\w.]*|go:markgen:`)

// QuickMatchFile 快速检查文件是否可能包含标记
// 只看注释行，用于跳过不需要解析的文件
func QuickMatchFile(filePath string) (bool, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(trimmed, "//") && !strings.HasPrefix(trimmed, "/*") && !strings.HasPrefix(trimmed, "*") {
			continue
		}
		if quickMatchRegex.MatchString(trimmed) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
