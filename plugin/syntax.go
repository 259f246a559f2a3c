package plugin

import (
	"bytes"
	"go/format"

	"github.com/dave/jennifer/jen"
	"github.com/donutnomad/gg"
	"github.com/pkg/errors"
)

// Syntax 生成器构造代码的入口
// 无论用 gg、jennifer 还是手写源码，最终都拆分为 GenerateResult
type Syntax struct {
	pkgName string
}

func newSyntax(pkgName string) *Syntax {
	if pkgName == "" {
		pkgName = "main"
	}
	return &Syntax{pkgName: pkgName}
}

// PackageName 生成代码所属的包名
func (s *Syntax) PackageName() string { return s.pkgName }

// NewFile 创建 gg 文件，包名与源文件一致
func (s *Syntax) NewFile() *gg.Generator {
	gen := gg.New()
	gen.SetPackage(s.pkgName)
	return gen
}

// NewJenFile 创建 jennifer 文件，包名与源文件一致
func (s *Syntax) NewJenFile() *jen.File {
	return jen.NewFile(s.pkgName)
}

// FromGG 将 gg 文件转换为生成结果
func (s *Syntax) FromGG(gen *gg.Generator) (*GenerateResult, error) {
	if gen == nil {
		return NewGenerateResult(), nil
	}
	// gg 输出未经格式化
	src, err := format.Source(gen.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "格式化 gg 输出失败")
	}
	return FragmentsFromSource(src)
}

// FromJen 将 jennifer 文件转换为生成结果
func (s *Syntax) FromJen(f *jen.File) (*GenerateResult, error) {
	if f == nil {
		return NewGenerateResult(), nil
	}
	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, errors.Wrap(err, "渲染 jennifer 文件失败")
	}
	return FragmentsFromSource(buf.Bytes())
}

// FromSource 将源码文本转换为生成结果，可以没有 package 子句
func (s *Syntax) FromSource(source string) (*GenerateResult, error) {
	return FragmentsFromSource([]byte(source))
}
