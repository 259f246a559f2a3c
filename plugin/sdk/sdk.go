// Package sdk 进程外插件的入口
//
// 插件是一个普通的 main 包：
//
//	func main() {
//	    sdk.Serve(plugin.NewRegistration(plugin.Metadata{Name: "demo", Marker: "Demo.Gen"}, gen))
//	}
//
// 宿主以 describe / generate 子命令启动插件，并通过 stdin/stdout 交换 JSON
package sdk

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/donutnomad/markgen/plugin"
)

// Serve 处理宿主的请求并退出进程
func Serve(regs ...plugin.Registration) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Main(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, regs...)
	stop()
	os.Exit(code)
}

// Main 执行一条插件命令，返回进程退出码
// 生成器自身的失败通过 error 事件返回，退出码仍为 0；只有协议层面的问题返回非 0
func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, regs ...plugin.Registration) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "用法: <plugin> %s | %s <name>\n", plugin.CmdDescribe, plugin.CmdGenerate)
		return 2
	}

	var err error
	switch args[0] {
	case plugin.CmdDescribe:
		err = describe(stdout, regs)
	case plugin.CmdGenerate:
		if len(args) < 2 {
			err = errors.New("缺少生成器名称")
			break
		}
		err = generate(ctx, args[1], stdin, stdout, regs)
	default:
		err = errors.Errorf("未知命令 %q", args[0])
	}
	if err != nil {
		fmt.Fprintf(stderr, "plugin: %v\n", err)
		return 1
	}
	return 0
}

func describe(w io.Writer, regs []plugin.Registration) error {
	return plugin.EncodeManifest(w, &plugin.Manifest{
		Protocol: plugin.ProtocolVersion,
		Generators: lo.Map(regs, func(reg plugin.Registration, _ int) plugin.Metadata {
			return reg.Metadata
		}),
	})
}

func generate(ctx context.Context, name string, stdin io.Reader, stdout io.Writer, regs []plugin.Registration) error {
	reg, ok := lo.Find(regs, func(reg plugin.Registration) bool { return reg.Name == name })
	if !ok {
		return errors.Errorf("插件中没有生成器 %q", name)
	}

	req, err := plugin.DecodeRequest(stdin)
	if err != nil {
		return err
	}

	out := plugin.NewEventWriter(stdout)
	sink := plugin.SinkFunc(func(d plugin.Diagnostic) {
		_ = out.Write(plugin.Event{Type: plugin.EventDiagnostic, Diagnostic: &d})
	})

	if reg.Factory == nil {
		return errors.Errorf("生成器 %q 没有 factory", name)
	}
	gen, err := reg.Factory()
	if err == nil && gen == nil {
		err = errors.Errorf("生成器 %q 的 factory 返回了 nil", name)
	}
	if err != nil {
		return out.Write(plugin.Event{Type: plugin.EventError, Error: err.Error()})
	}

	result, err := plugin.Invoke(ctx, gen, plugin.ContextFromRequest(req), sink)
	if err != nil {
		return out.Write(plugin.Event{Type: plugin.EventError, Error: err.Error()})
	}
	return out.Write(plugin.Event{Type: plugin.EventResult, Result: result})
}
