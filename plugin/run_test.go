package plugin

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// demoGen 为目标类型生成 func (t T) X() int
func demoGen() Generator {
	return memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		return NewGenerateResult().AddMember("func (t " + gctx.Node().Name + ") X() int {\n\treturn 1\n}")
	})
}

func TestPipeline_NothingGenerated(t *testing.T) {
	r := newTestRegistry()
	var calls atomic.Int32
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, GeneratorFunc(
		func(context.Context, *GenerateContext, ProgressSink) (*GenerateResult, error) {
			calls.Add(1)
			return nil, nil
		})))

	mod := parseModule(t, `package sample

// 普通注释
type T struct{}

func F() {}
`)
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)
	assert.False(t, out.Generated)
	assert.Nil(t, out.Source)
	assert.Zero(t, out.Invocations)
	assert.Zero(t, calls.Load())
}

func TestPipeline_SingleMember(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, demoGen()))

	mod := parseModule(t, `package sample

// @Demo.Gen
type T struct{}
`)
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)
	require.True(t, out.Generated)
	assert.Equal(t, 1, out.Invocations)
	assert.Equal(t, Preamble+`
package sample

func (t T) X() int {
	return 1
}
`, string(out.Source))
}

func TestPipeline_FragmentsFollowScanOrder(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "first", Marker: "First"}, memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		return NewGenerateResult().AddMember("// first " + gctx.Node().Name + "\nvar First" + gctx.Node().Name + " = 1")
	})))
	r.MustRegister(NewRegistration(Metadata{Name: "second", Marker: "Second"}, memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		return NewGenerateResult().AddMember("// second " + gctx.Node().Name + "\nvar Second" + gctx.Node().Name + " = 2")
	})))

	mod := parseModule(t, `// @Second
package sample

// @First
type A struct{}

// @Second
// @First
type B struct{}

// @First
type C struct{}
`)
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)
	require.True(t, out.Generated)

	src := string(out.Source)
	order := []string{"Secondsample", "FirstA", "SecondB", "FirstB", "FirstC"}
	last := -1
	for _, name := range order {
		idx := strings.Index(src, name)
		require.GreaterOrEqual(t, idx, 0, name)
		assert.Greater(t, idx, last, name)
		last = idx
	}
}

func TestPipeline_UnregisteredMarkersIgnored(t *testing.T) {
	r := newTestRegistry()
	collector := &Collector{}
	mod := parseModule(t, `package sample

// @Unknown.Marker(x=1)
type T struct{}
`)
	out, err := newTestPipeline(r, WithSink(collector)).Generate(context.Background(), mod)
	require.NoError(t, err)
	assert.False(t, out.Generated)
	assert.Zero(t, out.Invocations)
	assert.Empty(t, collector.Items())
}

func TestPipeline_LastRegistrationWins(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "A", Marker: "Demo.Gen"}, memberGenerator(func(*GenerateContext) *GenerateResult {
		return NewGenerateResult().AddMember("var FromA = 1")
	})))
	r.MustRegister(NewRegistration(Metadata{Name: "B", Marker: "Demo.Gen"}, memberGenerator(func(*GenerateContext) *GenerateResult {
		return NewGenerateResult().AddMember("var FromB = 1")
	})))

	mod := parseModule(t, "package sample\n\n// @Demo.Gen\ntype T struct{}\n")
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)
	assert.Contains(t, string(out.Source), "FromB")
	assert.NotContains(t, string(out.Source), "FromA")
}

func TestPipeline_DuplicateImportsAccumulate(t *testing.T) {
	r := newTestRegistry()
	var seen [][]Import
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		seen = append(seen, gctx.Imports())
		return NewGenerateResult().
			AddImport("fmt").
			AddMember("func (t " + gctx.Node().Name + ") String() string {\n\treturn fmt.Sprint(1)\n}")
	})))

	mod := parseModule(t, `package sample

// @Demo.Gen
type A struct{}

// @Demo.Gen
type B struct{}
`)
	p := newTestPipeline(r)

	// 累积阶段不去重
	doc := NewDocument(mod)
	for node := range NewScanner().Nodes(mod) {
		if node.Kind != NodeType {
			continue
		}
		gen, ok := r.Resolve("Demo.Gen")
		require.True(t, ok)
		result, err := Invoke(context.Background(), gen, BuildContext(ContextInput{
			Module: mod, Node: node, Imports: doc.Imports(),
		}), NopSink)
		require.NoError(t, err)
		doc.Add(result)
	}
	assert.Equal(t, []Import{{Path: "fmt"}, {Path: "fmt"}}, doc.Imports())
	src, err := doc.Synthesize()
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(src), "\t\"fmt\"\n"))

	// 第二次调用能看到第一次调用的 import，但看不到自己的
	require.Len(t, seen, 2)
	assert.Empty(t, seen[0])
	assert.Equal(t, []Import{{Path: "fmt"}}, seen[1])

	// 最终输出是可以编译的 Go 代码，相同的 import 只出现一次
	seen = nil
	out, err := p.Generate(context.Background(), mod)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(out.Source), `"fmt"`))
	assert.Equal(t, 2, strings.Count(string(out.Source), "fmt.Sprint(1)"))
}

func TestPipeline_InvocationFailure(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, demoGen()))
	r.MustRegister(NewRegistration(Metadata{Name: "broken", Marker: "Demo.Broken"}, GeneratorFunc(
		func(context.Context, *GenerateContext, ProgressSink) (*GenerateResult, error) {
			return nil, errors.New("boom")
		})))

	obs := &recordingObserver{}
	mod := parseModule(t, `package sample

// @Demo.Gen
type A struct{}

// @Demo.Broken
type B struct{}
`)
	out, err := newTestPipeline(r, WithObserver(obs)).Generate(context.Background(), mod)
	require.Error(t, err)
	assert.Nil(t, out)

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "broken", invErr.Generator)
	assert.Equal(t, "Demo.Broken", invErr.Marker)
	assert.Equal(t, "sample.B", invErr.Node)
	assert.Equal(t, 7, invErr.Pos.Line)
	assert.False(t, IsCanceled(err))
	assert.NotErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"demo", "broken"}, obs.invocations)
	assert.Equal(t, StatusFailed, obs.modules["sample.go"])
}

func TestPipeline_Canceled(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, GeneratorFunc(
		func(_ context.Context, gctx *GenerateContext, _ ProgressSink) (*GenerateResult, error) {
			calls.Add(1)
			// 已开始的调用允许完成，之后的调用不再发生
			cancel()
			return NewGenerateResult().AddMember("var X" + gctx.Node().Name + " = 1"), nil
		})))

	obs := &recordingObserver{}
	mod := parseModule(t, `package sample

// @Demo.Gen
type A struct{}

// @Demo.Gen
type B struct{}
`)
	out, err := newTestPipeline(r, WithObserver(obs)).Generate(ctx, mod)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, IsCanceled(err))
	assert.ErrorIs(t, err, context.Canceled)

	var invErr *InvocationError
	assert.False(t, errors.As(err, &invErr))

	var canceled *CanceledError
	require.ErrorAs(t, err, &canceled)
	assert.Equal(t, "sample.go", canceled.Module)
	assert.Equal(t, "sample.B", canceled.Node)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatusCanceled, obs.modules["sample.go"])
}

func TestPipeline_PanicBecomesInvocationError(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "panicky", Marker: "Demo.Panic"}, GeneratorFunc(
		func(context.Context, *GenerateContext, ProgressSink) (*GenerateResult, error) {
			panic("unexpected")
		})))

	mod := parseModule(t, "package sample\n\n// @Demo.Panic\ntype T struct{}\n")
	_, err := newTestPipeline(r).Generate(context.Background(), mod)

	var invErr *InvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "panicky", invErr.Generator)
	assert.Contains(t, invErr.Error(), "unexpected")
}

func TestPipeline_Diagnostics(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "noisy", Marker: "Demo.Noisy"}, GeneratorFunc(
		func(_ context.Context, gctx *GenerateContext, sink ProgressSink) (*GenerateResult, error) {
			sink.Report(Diagnostic{Severity: SevWarning, Message: "careful"})
			sink.Report(Diagnostic{Severity: SevError, Message: "bad"})
			return NewGenerateResult().AddMember("var X = 1"), nil
		})))
	mod := parseModule(t, "package sample\n\n// @Demo.Noisy\ntype T struct{}\n")

	t.Run("forwarded and non-fatal", func(t *testing.T) {
		var live []Diagnostic
		out, err := newTestPipeline(r, WithSink(SinkFunc(func(d Diagnostic) {
			live = append(live, d)
		}))).Generate(context.Background(), mod)
		require.NoError(t, err)
		assert.True(t, out.Generated)

		require.Len(t, live, 2)
		assert.Equal(t, "noisy", live[0].Generator)
		assert.Equal(t, "Demo.Noisy", live[0].Marker)
		assert.Equal(t, 4, live[0].Position.Line)
		assert.Equal(t, live, out.Diagnostics)
	})

	t.Run("fail on error", func(t *testing.T) {
		out, err := newTestPipeline(r, WithFailOnError(true)).Generate(context.Background(), mod)
		assert.Nil(t, out)
		var invErr *InvocationError
		require.ErrorAs(t, err, &invErr)
		assert.Equal(t, "noisy", invErr.Generator)
	})
}

func TestPipeline_ContextSnapshot(t *testing.T) {
	r := newTestRegistry()
	var externs [][]string
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		externs = append(externs, gctx.Externs())
		assert.Equal(t, "sample", gctx.PackageName())
		assert.Equal(t, "sample", gctx.FileName())
		assert.Equal(t, "Demo.Gen", gctx.Marker().Name)
		return NewGenerateResult().AddExtern("linux").AddMember("var X" + gctx.Node().Name + " = 1")
	})))

	mod := parseModule(t, `//go:build !windows

package sample

// @Demo.Gen
type A struct{}

// @Demo.Gen
type B struct{}
`)
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"!windows"}, {"!windows", "linux"}}, externs)
	assert.Contains(t, string(out.Source), "//go:build !windows && linux && linux\n")
}

func TestPipeline_RunAll(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, demoGen()))
	r.MustRegister(NewRegistration(Metadata{Name: "broken", Marker: "Demo.Broken"}, GeneratorFunc(
		func(context.Context, *GenerateContext, ProgressSink) (*GenerateResult, error) {
			return nil, errors.New("boom")
		})))

	mods := []*Module{
		parseModule(t, "package sample\n\n// @Demo.Gen\ntype A struct{}\n"),
		parseModule(t, "package sample\n\ntype B struct{}\n"),
		parseModule(t, "package sample\n\n// @Demo.Broken\ntype C struct{}\n"),
		parseModule(t, "package sample\n\n// @Demo.Gen\ntype D struct{}\n"),
	}
	outputs, stats, err := newTestPipeline(r, WithWorkers(2)).RunAll(context.Background(), mods)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	require.Len(t, outputs, 4)
	assert.True(t, outputs[0].Generated)
	assert.False(t, outputs[1].Generated)
	assert.Nil(t, outputs[2])
	assert.True(t, outputs[3].Generated)
	assert.Contains(t, string(outputs[3].Source), "func (t D) X() int")

	assert.Equal(t, 4, stats.ModuleCount)
	assert.Equal(t, 2, stats.GeneratedCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 2, stats.InvocationCount)
}

func TestPipeline_UnusedImportsDropped(t *testing.T) {
	r := newTestRegistry()
	r.MustRegister(NewRegistration(Metadata{Name: "demo", Marker: "Demo.Gen"}, memberGenerator(func(gctx *GenerateContext) *GenerateResult {
		return NewGenerateResult().
			AddImport("strings").
			AddMember("func (t " + gctx.Node().Name + ") X() int {\n\treturn 1\n}")
	})))

	mod := parseModule(t, `package sample

// @Demo.Gen
type A struct{}

// @Demo.Gen
type B struct{}
`)
	out, err := newTestPipeline(r).Generate(context.Background(), mod)
	require.NoError(t, err)
	// 没有成员引用的 import 无法编译，两次添加的都被删除
	assert.NotContains(t, string(out.Source), `"strings"`)
	assert.Equal(t, 2, strings.Count(string(out.Source), ") X() int {"))
}
