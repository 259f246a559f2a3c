package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
	"github.com/donutnomad/markgen/internal/pkgresolver"
)

// ModuleStatus 单个模块的处理结果
type ModuleStatus string

const (
	StatusGenerated ModuleStatus = "generated" // 产生了输出
	StatusEmpty     ModuleStatus = "empty"     // 没有可输出的内容
	StatusFailed    ModuleStatus = "failed"
	StatusCanceled  ModuleStatus = "canceled"
)

// Observer 观察流水线事件，用于统计指标
// 多个模块并行时会被并发调用
type Observer interface {
	InvocationDone(generator string, elapsed time.Duration, err error)
	ModuleDone(module string, status ModuleStatus)
}

type nopObserver struct{}

func (nopObserver) InvocationDone(string, time.Duration, error) {}
func (nopObserver) ModuleDone(string, ModuleStatus)             {}

// ModuleOutput 单个模块的生成结果
type ModuleOutput struct {
	Module *Module

	// Source 规范化后的生成代码，Generated 为 false 时为 nil
	Source    []byte
	Generated bool

	Invocations int
	Diagnostics []Diagnostic
}

// RunStats 运行统计信息
type RunStats struct {
	LoadDuration     time.Duration // 加载耗时
	GenerateDuration time.Duration // 生成耗时
	TotalDuration    time.Duration // 总耗时
	ModuleCount      int           // 模块数量
	InvocationCount  int           // 生成器调用次数
	GeneratedCount   int           // 产生输出的模块数量
	FailedCount      int           // 失败的模块数量
	FileCount        int           // 写入的文件数量
}

// Pipeline 生成流水线
// 单个模块内严格串行；RunAll 可以并行处理多个模块，每个模块独占自己的 Document
type Pipeline struct {
	registry    *Registry
	scanner     *Scanner
	normalizer  *Normalizer
	sink        ProgressSink
	observer    Observer
	failOnError bool
	workers     int
	log         logrus.FieldLogger

	resolvers sync.Map // projectRoot -> *pkgresolver.Resolver
}

// PipelineOption 流水线选项
type PipelineOption func(*Pipeline)

// WithRegistry 指定注册表，默认使用全局注册表
func WithRegistry(r *Registry) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithSink 诊断实时转发的目标
func WithSink(sink ProgressSink) PipelineOption {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// WithObserver 指定事件观察者
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithFailOnError error 级别的诊断使模块失败
func WithFailOnError(v bool) PipelineOption {
	return func(p *Pipeline) { p.failOnError = v }
}

// WithWorkers RunAll 并行处理的模块数量，<= 0 表示不限制
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) { p.workers = n }
}

// WithNormalizer 固定使用该规范化器，默认按模块的项目根目录构造
func WithNormalizer(n *Normalizer) PipelineOption {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithScanner 指定扫描器
func WithScanner(s *Scanner) PipelineOption {
	return func(p *Pipeline) {
		if s != nil {
			p.scanner = s
		}
	}
}

func WithPipelineLogger(l logrus.FieldLogger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: globalRegistry,
		sink:     NopSink,
		observer: nopObserver{},
		log:      logging.Subsys("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.scanner == nil {
		p.scanner = NewScanner()
	}
	return p
}

// Registry 流水线使用的注册表
func (p *Pipeline) Registry() *Registry { return p.registry }

// Generate 处理单个模块
// 按扫描顺序逐个调用生成器，任一调用失败或被取消时整个模块不产生输出
func (p *Pipeline) Generate(ctx context.Context, mod *Module) (*ModuleOutput, error) {
	ctx, span := tracer().Start(ctx, "markgen.module", trace.WithAttributes(
		attribute.String("markgen.module", mod.Path),
	))
	defer span.End()

	out, err := p.generate(ctx, mod)

	status := StatusEmpty
	switch {
	case IsCanceled(err):
		status = StatusCanceled
	case err != nil:
		status = StatusFailed
	case out.Generated:
		status = StatusGenerated
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("markgen.status", string(status)))
	p.observer.ModuleDone(mod.Path, status)

	return out, err
}

func (p *Pipeline) generate(ctx context.Context, mod *Module) (*ModuleOutput, error) {
	log := p.log.WithField(logfields.Module, mod.Path)
	doc := NewDocument(mod)
	collector := &Collector{}
	sink := MultiSink(collector, p.sink)
	out := &ModuleOutput{Module: mod}

	for node, markers := range p.scanner.Scan(mod) {
		if err := ctx.Err(); err != nil {
			return nil, &CanceledError{Module: mod.Path, Node: node.Path(), Cause: err}
		}

		for _, marker := range markers {
			e, ok := p.registry.resolve(marker.Name)
			if !ok {
				log.WithFields(logrus.Fields{
					logfields.Node:   node.Path(),
					logfields.Marker: marker.Name,
				}).Debug("标记没有对应的生成器，跳过")
				continue
			}
			gen := e.instance()

			// 调用前复制当前累积的 externs/imports
			gctx := BuildContext(ContextInput{
				Module:  mod,
				Node:    node,
				Marker:  marker,
				Externs: doc.Externs(),
				Imports: doc.Imports(),
			})
			tagging := &taggingSink{
				next:      sink,
				generator: e.reg.Name,
				marker:    marker.Name,
				position:  gctx.Position(),
			}

			start := time.Now()
			result, err := Invoke(ctx, gen, gctx, tagging)
			p.observer.InvocationDone(e.reg.Name, time.Since(start), err)
			out.Invocations++

			if err != nil {
				return nil, p.invocationError(ctx, mod, e.reg, marker, node, gctx, err)
			}
			if n := tagging.errorCount(); p.failOnError && n > 0 {
				return nil, &InvocationError{
					Generator: e.reg.Name,
					Marker:    marker.Name,
					Node:      node.Path(),
					Pos:       gctx.Position(),
					Err:       errors.Errorf("上报了 %d 个错误诊断", n),
				}
			}

			log.WithFields(logrus.Fields{
				logfields.Node:      node.Path(),
				logfields.Marker:    marker.Name,
				logfields.Generator: e.reg.Name,
				logfields.Duration:  time.Since(start),
			}).Debug("生成器调用完成")
			doc.Add(result)
		}
	}

	src, ok, err := doc.Finalize(p.normalizerFor(mod))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: 组装生成代码失败", mod.Path)
	}
	out.Source = src
	out.Generated = ok
	out.Diagnostics = collector.Items()
	return out, nil
}

// invocationError 区分取消与失败，并补齐调用信息
func (p *Pipeline) invocationError(ctx context.Context, mod *Module, reg Registration, marker *Marker, node *Node, gctx *GenerateContext, err error) error {
	var canceled *CanceledError
	if errors.As(err, &canceled) {
		canceled.Module = mod.Path
		return canceled
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return &CanceledError{Module: mod.Path, Node: node.Path(), Cause: ctxErr}
	}

	var invErr *InvocationError
	if errors.As(err, &invErr) {
		if invErr.Generator == "" {
			invErr.Generator = reg.Name
		}
		return invErr
	}
	return &InvocationError{
		Generator: reg.Name,
		Marker:    marker.Name,
		Node:      node.Path(),
		Pos:       gctx.Position(),
		Err:       err,
	}
}

func (p *Pipeline) normalizerFor(mod *Module) *Normalizer {
	if p.normalizer != nil {
		return p.normalizer
	}
	opts := []NormalizerOption{
		WithLocalPrefix(mod.ModulePath),
		WithNormalizerLogger(p.log),
	}
	if mod.ProjectRoot != "" {
		r, _ := p.resolvers.LoadOrStore(mod.ProjectRoot, pkgresolver.New(mod.ProjectRoot))
		opts = append(opts, WithPackageNamer(r.(*pkgresolver.Resolver)))
	}
	return NewNormalizer(opts...)
}

// RunAll 处理多个模块，模块之间并行
// 返回的结果与 mods 一一对应，失败或取消的模块为 nil；所有错误合并返回
func (p *Pipeline) RunAll(ctx context.Context, mods []*Module) ([]*ModuleOutput, *RunStats, error) {
	start := time.Now()
	stats := &RunStats{ModuleCount: len(mods)}
	outputs := make([]*ModuleOutput, len(mods))

	var (
		mu   sync.Mutex
		errs error
	)

	var g errgroup.Group
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i, mod := range mods {
		g.Go(func() error {
			out, err := p.Generate(ctx, mod)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedCount++
				errs = multierr.Append(errs, err)
				return nil
			}
			outputs[i] = out
			stats.InvocationCount += out.Invocations
			if out.Generated {
				stats.GeneratedCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.GenerateDuration = time.Since(start)
	stats.TotalDuration = stats.GenerateDuration

	p.log.WithFields(logrus.Fields{
		logfields.Count:    len(mods),
		logfields.Duration: stats.GenerateDuration,
	}).Debugf("处理完成: %d 个模块产生输出, %d 个失败", stats.GeneratedCount, stats.FailedCount)

	return outputs, stats, errs
}
