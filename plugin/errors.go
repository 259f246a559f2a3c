package plugin

import (
	"fmt"
	"go/token"

	"github.com/pkg/errors"
)

var (
	// ErrCanceled 运行被取消，与生成失败区分
	ErrCanceled = errors.New("生成已取消")

	// ErrNoPlugins 指定了插件位置，却没有任何可用的生成器
	ErrNoPlugins = errors.New("没有可用的插件")
)

// CanceledError 运行在某个节点之前被取消
type CanceledError struct {
	Module string
	Node   string // 取消时正要处理的节点，可能为空
	Cause  error  // context.Canceled 或 context.DeadlineExceeded
}

func (e *CanceledError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: 在处理 %s 前取消: %v", e.Module, e.Node, e.Cause)
	}
	return fmt.Sprintf("%s: 已取消: %v", e.Module, e.Cause)
}

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

func (e *CanceledError) Unwrap() error { return e.Cause }

// InvocationError 生成器调用失败，整个模块不产生输出
type InvocationError struct {
	Generator string
	Marker    string
	Node      string
	Pos       token.Position
	Err       error
}

func (e *InvocationError) Error() string {
	loc := e.Node
	if e.Pos.IsValid() {
		loc = e.Pos.String() + " " + e.Node
	}
	return fmt.Sprintf("%s: 生成器 %q 处理 @%s 失败: %v", loc, e.Generator, e.Marker, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// IsCanceled 判断错误是否由取消导致
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
