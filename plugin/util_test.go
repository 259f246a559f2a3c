package plugin

import (
	"context"
	"go/parser"
	"go/token"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/donutnomad/markgen/internal/logging"
)

// parseModule 解析源码为仅含语法信息的模块
func parseModule(t *testing.T, src string) *Module {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "sample.go", src, parser.ParseComments)
	require.NoError(t, err)
	return &Module{Path: "sample.go", Fset: fset, File: file}
}

func newTestRegistry() *Registry {
	return NewRegistry(WithRegistryLogger(logging.Discard()))
}

func newTestPipeline(r *Registry, opts ...PipelineOption) *Pipeline {
	opts = append([]PipelineOption{
		WithRegistry(r),
		WithPipelineLogger(logging.Discard()),
		WithScanner(NewScanner(WithScannerLogger(logging.Discard()))),
		WithNormalizer(NewNormalizer(WithNormalizerLogger(logging.Discard()))),
	}, opts...)
	return NewPipeline(opts...)
}

// memberGenerator 每次调用产生固定的片段
func memberGenerator(build func(gctx *GenerateContext) *GenerateResult) Generator {
	return GeneratorFunc(func(_ context.Context, gctx *GenerateContext, _ ProgressSink) (*GenerateResult, error) {
		return build(gctx), nil
	})
}

// recordingObserver 记录流水线事件
type recordingObserver struct {
	mu          sync.Mutex
	invocations []string
	modules     map[string]ModuleStatus
}

func (o *recordingObserver) InvocationDone(generator string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invocations = append(o.invocations, generator)
}

func (o *recordingObserver) ModuleDone(module string, status ModuleStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.modules == nil {
		o.modules = make(map[string]ModuleStatus)
	}
	o.modules[module] = status
}
