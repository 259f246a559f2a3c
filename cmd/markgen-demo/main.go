// markgen-demo 是一个进程外插件示例
//
//	go build -o bin/plugins/markgen-demo ./cmd/markgen-demo
//	markgen --plugins bin/plugins ./...
//
// 提供两个标记：
//   - @Demo.Gen 为类型生成 func (t T) X() int
//   - @Demo.Stringer 为类型生成 String 方法与 fmt.Stringer 断言
package main

import (
	"context"

	"github.com/dave/jennifer/jen"
	"github.com/donutnomad/gg"

	"github.com/donutnomad/markgen/plugin"
	"github.com/donutnomad/markgen/plugin/sdk"
)

func main() {
	sdk.Serve(registrations()...)
}

func registrations() []plugin.Registration {
	return []plugin.Registration{
		plugin.NewRegistration(plugin.Metadata{
			Name:        "demo",
			Marker:      "Demo.Gen",
			Description: "生成 X 方法",
		}, plugin.GeneratorFunc(genX)),
		plugin.NewRegistrationWithParams(plugin.Metadata{
			Name:        "demo-stringer",
			Marker:      "Demo.Stringer",
			Description: "生成 String 方法",
		}, plugin.GeneratorFunc(genStringer), stringerParams{}),
	}
}

type stringerParams struct {
	Text string `param:"name=text,required=false,default=,description=String 返回的文本，默认为类型名"`
}

// onlyTypes 非类型节点上的标记给出警告并跳过
func onlyTypes(gctx *plugin.GenerateContext, sink plugin.ProgressSink) bool {
	if gctx.Node().Kind == plugin.NodeType {
		return true
	}
	sink.Report(plugin.Diagnostic{
		Severity: plugin.SevWarning,
		Message:  "@" + gctx.Marker().Name + " 只能用于类型声明",
	})
	return false
}

func genX(_ context.Context, gctx *plugin.GenerateContext, sink plugin.ProgressSink) (*plugin.GenerateResult, error) {
	if !onlyTypes(gctx, sink) {
		return nil, nil
	}
	file := gctx.Syntax().NewFile()
	file.Body().NewFunction("X").
		WithReceiver("t", gctx.Node().Name).
		AddResult("", "int").
		AddBody(gg.Return(gg.S("1")))
	return gctx.Syntax().FromGG(file)
}

func genStringer(_ context.Context, gctx *plugin.GenerateContext, sink plugin.ProgressSink) (*plugin.GenerateResult, error) {
	if !onlyTypes(gctx, sink) {
		return nil, nil
	}
	var params stringerParams
	if err := plugin.DecodeArgs(gctx.Marker(), &params); err != nil {
		return nil, err
	}
	name := gctx.Node().Name
	if params.Text == "" {
		params.Text = name
	}

	f := gctx.Syntax().NewJenFile()
	f.Var().Id("_").Qual("fmt", "Stringer").Op("=").Parens(jen.Op("*").Id(name)).Call(jen.Nil())
	f.Func().Params(jen.Id("t").Id(name)).Id("String").Params().String().Block(
		jen.Return(jen.Lit(params.Text)),
	)
	return gctx.Syntax().FromJen(f)
}
