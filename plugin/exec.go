package plugin

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ExecGenerator 通过子进程调用插件中的生成器
// 每次调用启动一个新进程，插件崩溃不会影响宿主
type ExecGenerator struct {
	Path string // 插件可执行文件
	Name string // 插件内的生成器名称

	// Timeout 单次调用的上限，0 表示不限制
	Timeout time.Duration
	// CancelGrace 外部 ctx 取消后等待插件自行结束的时间，超时后结束进程
	// 0 表示使用 DefaultCancelGrace
	CancelGrace time.Duration
}

// DefaultCancelGrace 默认的取消宽限时间
const DefaultCancelGrace = 5 * time.Second

func (g *ExecGenerator) Generate(ctx context.Context, gctx *GenerateContext, sink ProgressSink) (*GenerateResult, error) {
	var stdin bytes.Buffer
	if err := EncodeRequest(&stdin, NewRequest(g.Name, gctx)); err != nil {
		return nil, err
	}

	// 已开始的调用不随 ctx 立即中断，宽限时间过后才结束进程
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if g.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, g.Timeout)
		defer cancelTimeout()
	}
	grace := g.CancelGrace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-runCtx.Done():
		}
	})
	defer stop()

	cmd := exec.CommandContext(runCtx, g.Path, CmdGenerate, g.Name)
	cmd.Env = pluginEnv()
	cmd.Stdin = &stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "创建插件输出管道失败")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "启动插件 %s 失败", g.Path)
	}

	var (
		result    *GenerateResult
		pluginErr error
	)
	readErr := ReadEvents(stdout, func(ev Event) error {
		switch ev.Type {
		case EventDiagnostic:
			if ev.Diagnostic != nil {
				sink.Report(*ev.Diagnostic)
			}
		case EventResult:
			result = ev.Result
			if result == nil {
				result = NewGenerateResult()
			}
		case EventError:
			pluginErr = errors.New(ev.Error)
		default:
			return errors.Errorf("未知的事件类型 %q", ev.Type)
		}
		return nil
	})
	// 读取出错时仍需排空输出，避免插件阻塞在写入上
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case pluginErr != nil:
		return nil, pluginErr
	case readErr != nil:
		return nil, readErr
	case waitErr != nil:
		return nil, errors.Wrapf(waitErr, "插件 %s 异常退出%s", g.Path, stderrSuffix(&stderr))
	case result == nil:
		return nil, errors.Errorf("插件 %s 没有返回结果%s", g.Path, stderrSuffix(&stderr))
	}
	return result, nil
}

// Describe 读取插件清单
func Describe(ctx context.Context, path string) (*Manifest, error) {
	cmd := exec.CommandContext(ctx, path, CmdDescribe)
	cmd.Env = pluginEnv()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "执行 %s %s 失败%s", path, CmdDescribe, stderrSuffix(&stderr))
	}
	m, err := DecodeManifest(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if m.Protocol != ProtocolVersion {
		return nil, errors.Errorf("不支持的协议版本 %d (需要 %d)", m.Protocol, ProtocolVersion)
	}
	return m, nil
}

func pluginEnv() []string {
	return append(os.Environ(), ProtocolEnv+"="+strconv.Itoa(ProtocolVersion))
}

func stderrSuffix(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return ""
	}
	return ": " + truncate(s, 500)
}
