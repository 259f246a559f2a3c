package main

import (
	"context"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/plugin"
)

// invoke 对第一个带 marker 标记的节点调用生成器
func invoke(t *testing.T, src, marker string) (*plugin.GenerateResult, []plugin.Diagnostic, error) {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "sample.go", src, parser.ParseComments)
	require.NoError(t, err)
	mod := &plugin.Module{Path: "sample.go", Fset: fset, File: file}

	r := plugin.NewRegistry(plugin.WithRegistryLogger(logging.Discard()))
	for _, reg := range registrations() {
		r.MustRegister(reg)
	}
	gen, ok := r.Resolve(marker)
	require.True(t, ok)

	scanner := plugin.NewScanner(plugin.WithScannerLogger(logging.Discard()))
	for node, markers := range scanner.Scan(mod) {
		if m := plugin.GetMarker(markers, marker); m != nil {
			var diags plugin.Collector
			gctx := plugin.BuildContext(plugin.ContextInput{Module: mod, Node: node, Marker: m})
			result, err := gen.Generate(context.Background(), gctx, &diags)
			return result, diags.Items(), err
		}
	}
	t.Fatalf("没有找到 @%s", marker)
	return nil, nil, nil
}

func TestGenX(t *testing.T) {
	result, diags, err := invoke(t, "package sample\n\n// @Demo.Gen\ntype T struct{}\n", "Demo.Gen")
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, result.Members, 1)
	assert.Contains(t, result.Members[0], "func (t T) X() int")
	assert.Contains(t, result.Members[0], "return 1")
}

func TestGenX_NotAType(t *testing.T) {
	result, diags, err := invoke(t, "// @Demo.Gen\npackage sample\n", "Demo.Gen")
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
	require.Len(t, diags, 1)
	assert.Equal(t, plugin.SevWarning, diags[0].Severity)
}

func TestGenStringer(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		want   string
	}{
		{"默认使用类型名", "@Demo.Stringer", `return "User"`},
		{"自定义文本", `@Demo.Stringer(text="user record")`, `return "user record"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := invoke(t, "package sample\n\n// "+tt.marker+"\ntype User struct{}\n", "Demo.Stringer")
			require.NoError(t, err)
			assert.Equal(t, []plugin.Import{{Path: "fmt"}}, result.Imports)
			assert.Equal(t, []string{"var _ fmt.Stringer = (*User)(nil)"}, result.Attributes)
			require.Len(t, result.Members, 1)
			assert.Contains(t, result.Members[0], "func (t User) String() string")
			assert.Contains(t, result.Members[0], tt.want)
		})
	}
}
