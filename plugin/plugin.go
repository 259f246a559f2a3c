package plugin

import (
	"context"
	"reflect"
)

// Generator 代码生成器接口
// 每个生成器只绑定一个标记，由插件或内置实现提供
type Generator interface {
	// Generate 根据上下文产生片段
	// 诊断通过 sink 实时上报；ctx 取消时应尽快返回
	Generate(ctx context.Context, gctx *GenerateContext, sink ProgressSink) (*GenerateResult, error)
}

// GeneratorFunc 函数形式的 Generator
type GeneratorFunc func(ctx context.Context, gctx *GenerateContext, sink ProgressSink) (*GenerateResult, error)

func (f GeneratorFunc) Generate(ctx context.Context, gctx *GenerateContext, sink ProgressSink) (*GenerateResult, error) {
	return f(ctx, gctx, sink)
}

// Metadata 生成器声明的元信息
type Metadata struct {
	Name        string     `json:"name"`   // 生成器名称
	Marker      string     `json:"marker"` // 绑定的标记全限定名
	Description string     `json:"description,omitempty"`
	Params      []ParamDef `json:"params,omitempty"` // 标记支持的参数
}

// Factory 构造生成器实例，首次解析时调用一次
type Factory func() (Generator, error)

// Registration 注册表中的一项
type Registration struct {
	Metadata
	Factory Factory

	// Source 来源，内置生成器为 builtin，插件为可执行文件路径
	Source string
}

const SourceBuiltin = "builtin"

// NewRegistration 用已构造的生成器创建注册项
func NewRegistration(meta Metadata, gen Generator) Registration {
	return Registration{
		Metadata: meta,
		Factory:  func() (Generator, error) { return gen, nil },
		Source:   SourceBuiltin,
	}
}

// NewRegistrationWithParams 创建注册项，参数定义取自参数结构体的 param tag
// paramsProto: 参数结构体的零值实例，例如 TemplateParams{}
func NewRegistrationWithParams(meta Metadata, gen Generator, paramsProto any) Registration {
	meta.Params = ParseParamsFromStruct(paramsProto)
	return NewRegistration(meta, gen)
}

// NewParams 根据参数结构体原型创建新实例（指针）
func NewParams(paramsProto any) any {
	if paramsProto == nil {
		return nil
	}
	typ := reflect.TypeOf(paramsProto)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return reflect.New(typ).Interface()
}
