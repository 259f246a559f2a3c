package plugin

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/donutnomad/markgen/plugin"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Invoke 调用生成器
// 调用前检查取消；已开始的调用允许执行完毕。panic 被转换为 *InvocationError，nil 结果视为空结果
func Invoke(ctx context.Context, gen Generator, gctx *GenerateContext, sink ProgressSink) (result *GenerateResult, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &CanceledError{Node: gctx.Node().Path(), Cause: err}
	}
	if sink == nil {
		sink = NopSink
	}

	markerName := ""
	if m := gctx.Marker(); m != nil {
		markerName = m.Name
	}
	ctx, span := tracer().Start(ctx, "markgen.invoke", trace.WithAttributes(
		attribute.String("markgen.marker", markerName),
		attribute.String("markgen.node", gctx.Node().Path()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &InvocationError{
				Marker: markerName,
				Node:   gctx.Node().Path(),
				Pos:    gctx.Position(),
				Err:    fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	result, err = gen.Generate(ctx, gctx, sink)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = NewGenerateResult()
	}
	return result, nil
}
