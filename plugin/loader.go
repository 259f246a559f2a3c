package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
)

// ManifestError 某个插件无法加载
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("加载插件 %s 失败: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Loader 从磁盘加载进程外插件并注册到注册表
type Loader struct {
	registry        *Registry
	log             logrus.FieldLogger
	describeTimeout time.Duration
	invokeTimeout   time.Duration
}

// LoaderOption 加载器选项
type LoaderOption func(*Loader)

func WithLoaderLogger(l logrus.FieldLogger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l
		}
	}
}

// WithDescribeTimeout 读取清单的超时时间
func WithDescribeTimeout(d time.Duration) LoaderOption {
	return func(ld *Loader) { ld.describeTimeout = d }
}

// WithInvokeTimeout 单次插件调用的超时时间，0 表示不限制
func WithInvokeTimeout(d time.Duration) LoaderOption {
	return func(ld *Loader) { ld.invokeTimeout = d }
}

func NewLoader(registry *Registry, opts ...LoaderOption) *Loader {
	if registry == nil {
		registry = globalRegistry
	}
	ld := &Loader{
		registry:        registry,
		log:             logging.Subsys("loader"),
		describeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load 加载指定位置的插件
// 位置可以是可执行文件或目录（不递归，按文件名排序）。同名标记按加载顺序后者生效
// 返回注册的生成器数量；单个插件的失败被合并到 error 中，不中断其余插件。
// 指定了位置却没有任何可用生成器时返回 ErrNoPlugins
func (ld *Loader) Load(ctx context.Context, locations ...string) (int, error) {
	var (
		errs  error
		count int
	)

	for _, location := range locations {
		candidates, err := ld.candidates(location)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, path := range candidates {
			if err := ctx.Err(); err != nil {
				return count, multierr.Append(errs, err)
			}
			n, err := ld.loadOne(ctx, path)
			count += n
			if err != nil {
				errs = multierr.Append(errs, &ManifestError{Path: path, Err: err})
			}
		}
	}

	// 已注册的内置生成器不计入
	if len(locations) > 0 && count == 0 {
		errs = multierr.Append(errs, errors.WithMessagef(ErrNoPlugins, "位置: %s", strings.Join(locations, ", ")))
	}
	return count, errs
}

func (ld *Loader) loadOne(ctx context.Context, path string) (int, error) {
	describeCtx := ctx
	if ld.describeTimeout > 0 {
		var cancel context.CancelFunc
		describeCtx, cancel = context.WithTimeout(ctx, ld.describeTimeout)
		defer cancel()
	}

	manifest, err := Describe(describeCtx, path)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, meta := range manifest.Generators {
		gen := &ExecGenerator{Path: path, Name: meta.Name, Timeout: ld.invokeTimeout}
		reg := Registration{
			Metadata: meta,
			Factory:  func() (Generator, error) { return gen, nil },
			Source:   path,
		}
		if _, err := ld.registry.Register(reg); err != nil {
			return count, err
		}
		count++
	}

	ld.log.WithFields(logrus.Fields{
		logfields.Plugin: path,
		logfields.Count:  count,
	}).Debugf("已加载插件: %s", strings.Join(lo.Map(manifest.Generators, func(m Metadata, _ int) string {
		return "@" + m.Marker
	}), ", "))
	return count, nil
}

// candidates 列出位置下的可执行文件
func (ld *Loader) candidates(location string) ([]string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, errors.Wrapf(err, "插件位置 %s", location)
	}
	if !info.IsDir() {
		if !isExecutable(info) {
			return nil, errors.Errorf("插件 %s 不是可执行文件", location)
		}
		return []string{location}, nil
	}

	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, errors.Wrapf(err, "读取插件目录 %s", location)
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		fi, err := entry.Info()
		if err != nil || !isExecutable(fi) {
			continue
		}
		result = append(result, filepath.Join(location, entry.Name()))
	}
	sort.Strings(result)
	return result, nil
}

func isExecutable(info os.FileInfo) bool {
	if !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Ext(info.Name()), ".exe")
	}
	return info.Mode().Perm()&0o111 != 0
}
