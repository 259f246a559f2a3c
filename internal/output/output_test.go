package output

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/plugin"
)

func parseModule(t *testing.T, path, src string) *plugin.Module {
	t.Helper()
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	require.NoError(t, err)
	return &plugin.Module{Path: path, Fset: fset, File: file}
}

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    *Directive
		wantErr bool
	}{
		{name: "无指令", src: "package p\n"},
		{
			name: "反引号",
			src:  "package p\n\n//go:markgen: -output `$FILE_query`\n",
			want: &Directive{Output: "$FILE_query"},
		},
		{
			name: "带空格的写法与双引号",
			src:  "package p\n\n// go:markgen: -output \"my file\"\n",
			want: &Directive{Output: "my file"},
		},
		{
			name:    "多条指令",
			src:     "package p\n\n//go:markgen: -output a\n\n//go:markgen: -output b\n",
			wantErr: true,
		},
		{
			name:    "缺少参数",
			src:     "package p\n\n//go:markgen: -output\n",
			wantErr: true,
		},
		{
			name:    "未知参数",
			src:     "package p\n\n//go:markgen: -verbose\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDirective(parseModule(t, "p.go", tt.src).File)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestSplitArgs(t *testing.T) {
	assert.Equal(t, []string{"-output", "`a b`", "x"}, splitArgs("-output `a b`   x"))
	assert.Equal(t, []string{"'q'"}, splitArgs("\t'q'"))
	assert.Equal(t, "a b", trimQuotes("`a b`"))
	assert.Equal(t, "`a", trimQuotes("`a"))
}

func TestPath(t *testing.T) {
	dir := filepath.Join("src", "models")
	tests := []struct {
		name    string
		src     string
		suffix  string
		want    string
		wantErr bool
	}{
		{name: "默认", src: "package models\n", want: filepath.Join(dir, "user_gen.go")},
		{name: "自定义后缀", src: "package models\n", suffix: ".markgen.go", want: filepath.Join(dir, "user.markgen.go")},
		{
			name: "模板变量",
			src:  "package models\n\n//go:markgen: -output `$PACKAGE_$FILE_query`\n",
			want: filepath.Join(dir, "models_user_query.go"),
		},
		{
			name:    "覆盖源文件",
			src:     "package models\n\n//go:markgen: -output `$FILE`\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(parseModule(t, filepath.Join(dir, "user.go"), tt.src), tt.suffix)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "user.go")
	target := filepath.Join(dir, "user_gen.go")
	mod := parseModule(t, src, "package models\n")
	generated := []byte(plugin.Preamble + "\npackage models\n\nvar X = 1\n")

	w := NewWriter(WithWriterLogger(logging.Discard()))
	checker := NewWriter(WithCheck(true), WithWriterLogger(logging.Discard()))

	// 检查模式发现缺失的文件
	change, err := checker.Write(&plugin.ModuleOutput{Module: mod, Source: generated, Generated: true})
	require.NoError(t, err)
	assert.Equal(t, Stale, change.Action)
	assert.Contains(t, change.Diff, "+var X = 1")
	assert.NoFileExists(t, target)

	change, err = w.Write(&plugin.ModuleOutput{Module: mod, Source: generated, Generated: true})
	require.NoError(t, err)
	assert.Equal(t, Written, change.Action)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, generated, data)

	// 内容相同不重写
	change, err = w.Write(&plugin.ModuleOutput{Module: mod, Source: generated, Generated: true})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change.Action)

	change, err = checker.Write(&plugin.ModuleOutput{Module: mod, Generated: false})
	require.NoError(t, err)
	assert.Equal(t, Stale, change.Action)
	assert.FileExists(t, target)

	// 不再产生内容时删除旧文件
	change, err = w.Write(&plugin.ModuleOutput{Module: mod, Generated: false})
	require.NoError(t, err)
	assert.Equal(t, Removed, change.Action)
	assert.NoFileExists(t, target)

	change, err = w.Write(&plugin.ModuleOutput{Module: mod, Generated: false})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change.Action)
}

func TestWriter_KeepsHandWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "user_gen.go")
	handWritten := []byte("package models\n\n// 手写的代码\n")
	require.NoError(t, os.WriteFile(target, handWritten, 0o644))

	mod := parseModule(t, filepath.Join(dir, "user.go"), "package models\n")
	w := NewWriter(WithWriterLogger(logging.Discard()))

	change, err := w.Write(&plugin.ModuleOutput{Module: mod, Generated: false})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change.Action)

	_, err = w.Write(&plugin.ModuleOutput{Module: mod, Source: []byte(plugin.Preamble), Generated: true})
	assert.Error(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, handWritten, data)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "written", Written.String())
	assert.Equal(t, "stale", Stale.String())
	assert.Equal(t, "unknown", Action(42).String())
}
