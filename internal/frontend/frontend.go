// Package frontend 把 Go 源码加载为生成流水线的模块
//
// Load 通过 go/packages 加载带类型信息的包；ParseFiles 只做语法解析，不依赖 go 命令
package frontend

import (
	"context"
	"go/ast"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/packages"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
	"github.com/donutnomad/markgen/plugin"
)

// ErrNoToolchain 找不到 go 命令，无法加载包
var ErrNoToolchain = errors.New("找不到 go 命令")

const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedSyntax |
	packages.NeedTypes |
	packages.NeedTypesInfo |
	packages.NeedModule

// Config 加载配置
type Config struct {
	Dir        string   // 工作目录，为空时使用当前目录
	Patterns   []string // 包模式，为空时为 ./...
	Tests      bool     // 同时处理 _test.go 文件
	BuildFlags []string
	Log        logrus.FieldLogger
}

func (c *Config) patterns() []string {
	if len(c.Patterns) == 0 {
		return []string{"./..."}
	}
	return c.Patterns
}

func (c *Config) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logging.Subsys("frontend")
	}
	return c.Log
}

// Load 加载包并返回其中的源文件模块
// 已生成的文件不是模块；类型检查错误只记录日志，受影响的模块仍会返回
func Load(ctx context.Context, cfg Config) ([]*plugin.Module, error) {
	if _, err := exec.LookPath("go"); err != nil {
		return nil, errors.WithMessage(ErrNoToolchain, err.Error())
	}
	log := cfg.logger()

	pcfg := &packages.Config{
		Context:    ctx,
		Mode:       loadMode,
		Dir:        cfg.Dir,
		Tests:      cfg.Tests,
		BuildFlags: cfg.BuildFlags,
		Logf: func(format string, args ...any) {
			log.Debugf(format, args...)
		},
	}
	pkgs, err := packages.Load(pcfg, cfg.patterns()...)
	if err != nil {
		return nil, errors.Wrap(err, "加载包失败")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 测试变体会重复包含同一个文件，按包 ID 排序后只保留第一次出现
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID < pkgs[j].ID })
	compilation := &plugin.Compilation{Packages: pkgs}
	seen := make(map[string]bool)

	var mods []*plugin.Module
	for _, pkg := range pkgs {
		if strings.HasSuffix(pkg.ID, ".test") {
			continue
		}
		for _, e := range pkg.Errors {
			log.WithField(logfields.Path, pkg.PkgPath).Warn(e.Error())
		}

		var semantic *plugin.Semantic
		if pkg.Types != nil && pkg.TypesInfo != nil {
			semantic = &plugin.Semantic{Package: pkg.Types, Info: pkg.TypesInfo}
		}
		projectRoot, modulePath := "", ""
		if pkg.Module != nil {
			projectRoot, modulePath = pkg.Module.Dir, pkg.Module.Path
		}

		for _, file := range pkg.Syntax {
			path := pkg.Fset.File(file.Pos()).Name()
			if seen[path] || !isCandidate(path, file, cfg.Tests) {
				continue
			}
			seen[path] = true

			mod := &plugin.Module{
				Path:        path,
				Fset:        pkg.Fset,
				File:        file,
				Semantic:    semantic,
				Compilation: compilation,
				ProjectRoot: projectRoot,
				ModulePath:  modulePath,
			}
			if projectRoot == "" {
				fillProject(mod)
			}
			mod.Query = semanticMarkers(mod)
			mods = append(mods, mod)
		}
	}

	log.WithField(logfields.Count, len(mods)).Debugf("加载了 %d 个包", len(pkgs))
	return mods, nil
}

// isCandidate 判断文件是否需要扫描标记
func isCandidate(path string, file *ast.File, tests bool) bool {
	if !strings.HasSuffix(path, ".go") {
		return false
	}
	if !tests && strings.HasSuffix(path, "_test.go") {
		return false
	}
	return !ast.IsGenerated(file)
}

// semanticMarkers 有类型信息时，类型节点必须能解析出对象，否则视为查询失败
func semanticMarkers(mod *plugin.Module) plugin.MarkerQuery {
	byComment := plugin.CommentMarkers(mod.File)
	return func(node *plugin.Node) ([]*plugin.Marker, error) {
		if mod.Semantic != nil && node.Kind == plugin.NodeType && node.Object == nil {
			return nil, errors.Wrapf(plugin.ErrNoSemantic, "%s", node.Path())
		}
		return byComment(node)
	}
}

// fillProject 从文件所在目录向上查找 go.mod
func fillProject(mod *plugin.Module) {
	abs, err := filepath.Abs(mod.Path)
	if err != nil {
		return
	}
	root, modulePath, err := FindProjectRoot(filepath.Dir(abs))
	if err != nil {
		return
	}
	mod.ProjectRoot = root
	mod.ModulePath = modulePath
}
