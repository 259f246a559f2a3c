package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/donutnomad/markgen/internal/config"
	"github.com/donutnomad/markgen/internal/frontend"
	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
	"github.com/donutnomad/markgen/internal/metrics"
	"github.com/donutnomad/markgen/internal/output"
	"github.com/donutnomad/markgen/plugin"
	"github.com/donutnomad/markgen/templategen"
)

// runner 一次 gen 或 dev 会话，注册表与指标在多次运行之间共享
type runner struct {
	cfg      *config.Config
	registry *plugin.Registry
	metrics  *metrics.Metrics
	sink     plugin.ProgressSink
	log      logrus.FieldLogger

	stdout io.Writer
}

// report 单次运行的结果
type report struct {
	Stats   *plugin.RunStats
	Changes []*output.Change
	Stale   []string
}

// builtins 内置生成器
func builtins() []plugin.Registration {
	return []plugin.Registration{
		templategen.Registration(),
	}
}

func newRunner(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*runner, error) {
	r := &runner{
		cfg:      cfg,
		registry: plugin.NewRegistry(),
		metrics:  metrics.New(),
		sink:     newConsoleSink(stderr),
		log:      logging.Subsys("markgen"),
		stdout:   stdout,
	}
	for _, reg := range builtins() {
		if _, err := r.registry.Register(reg); err != nil {
			return nil, err
		}
	}

	if len(cfg.Plugins) > 0 {
		loader := plugin.NewLoader(r.registry, plugin.WithInvokeTimeout(cfg.InvokeTimeout))
		n, err := loader.Load(ctx, cfg.Plugins...)
		if errors.Is(err, plugin.ErrNoPlugins) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// 单个插件的失败不影响其余插件
		for _, e := range multierr.Errors(err) {
			r.log.WithError(e).Warn("加载插件失败")
		}
		r.log.WithField(logfields.Count, n).Debug("插件加载完成")
	}
	return r, nil
}

// loadModules 加载模块；找不到 go 命令时退化为只做语法解析
func (r *runner) loadModules(ctx context.Context, patterns []string) ([]*plugin.Module, error) {
	if r.cfg.SyntaxOnly {
		return frontend.ParseFiles(ctx, patterns, r.cfg.Tests)
	}
	mods, err := frontend.Load(ctx, frontend.Config{Patterns: patterns, Tests: r.cfg.Tests})
	if errors.Is(err, frontend.ErrNoToolchain) {
		r.log.Warn("找不到 go 命令，只做语法解析")
		return frontend.ParseFiles(ctx, patterns, r.cfg.Tests)
	}
	return mods, err
}

// run 加载、生成并写入输出
// 单个模块的失败不影响其他模块的输出，所有错误合并返回
func (r *runner) run(ctx context.Context, patterns []string) (*report, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	start := time.Now()
	mods, err := r.loadModules(ctx, patterns)
	if err != nil {
		return nil, err
	}
	loadDuration := time.Since(start)

	pipeline := plugin.NewPipeline(
		plugin.WithRegistry(r.registry),
		plugin.WithSink(r.sink),
		plugin.WithObserver(r.metrics),
		plugin.WithFailOnError(r.cfg.FailOnError),
		plugin.WithWorkers(r.cfg.Workers),
	)
	outputs, stats, errs := pipeline.RunAll(ctx, mods)
	stats.LoadDuration = loadDuration

	writer := output.NewWriter(output.WithSuffix(r.cfg.OutputSuffix), output.WithCheck(r.cfg.Check))
	rep := &report{Stats: stats}
	for _, out := range outputs {
		// 失败的模块保留原有的生成文件
		if out == nil {
			continue
		}
		change, err := writer.Write(out)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.metrics.FileDone(change.Action.String())
		rep.Changes = append(rep.Changes, change)
		switch change.Action {
		case output.Written, output.Removed:
			stats.FileCount++
		case output.Stale:
			rep.Stale = append(rep.Stale, change.Path)
			fmt.Fprint(r.stdout, change.Diff)
		}
	}
	stats.TotalDuration = time.Since(start)
	return rep, errs
}

func (r *runner) printSummary(rep *report) {
	s := rep.Stats
	r.log.WithFields(logrus.Fields{
		"modules":     s.ModuleCount,
		"invocations": s.InvocationCount,
		"generated":   s.GeneratedCount,
		"failed":      s.FailedCount,
		"files":       s.FileCount,
	}).Infof("完成: 加载 %v, 生成 %v, 总计 %v",
		s.LoadDuration.Round(time.Millisecond),
		s.GenerateDuration.Round(time.Millisecond),
		s.TotalDuration.Round(time.Millisecond))
}

func (r *runner) writeMetrics() error {
	if r.cfg.MetricsFile == "" {
		return nil
	}
	return r.metrics.WriteTextfile(r.cfg.MetricsFile)
}

// consoleSink 把诊断按级别着色输出，可被多个模块并发调用
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

var severityColor = map[plugin.Severity]*color.Color{
	plugin.SevInfo:    color.New(color.FgCyan),
	plugin.SevWarning: color.New(color.FgYellow),
	plugin.SevError:   color.New(color.FgRed, color.Bold),
}

func newConsoleSink(out io.Writer) *consoleSink {
	if out == nil {
		out = os.Stderr
	}
	return &consoleSink{out: out}
}

func (s *consoleSink) Report(d plugin.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Position.IsValid() {
		fmt.Fprintf(s.out, "%s: ", d.Position)
	}
	c, ok := severityColor[d.Severity]
	if !ok {
		c = color.New(color.Reset)
	}
	c.Fprint(s.out, d.Severity.String())
	if d.Generator != "" {
		fmt.Fprintf(s.out, ": [%s] %s\n", d.Generator, d.Message)
		return
	}
	fmt.Fprintf(s.out, ": %s\n", d.Message)
}
