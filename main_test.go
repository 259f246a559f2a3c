package main

import (
	"bytes"
	"context"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donutnomad/markgen/internal/config"
	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/output"
	"github.com/donutnomad/markgen/plugin"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["go.mod"] = "module example.com/app\n\ngo 1.22\n"
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func testConfig() *config.Config {
	return &config.Config{
		Workers:      2,
		OutputSuffix: output.DefaultSuffix,
		LogLevel:     "info",
		LogFormat:    "text",
		SyntaxOnly:   true,
	}
}

func TestRunner_Run(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"model.go": "package app\n\n// @Template(file=x.tmpl)\ntype T struct{}\n",
		"x.tmpl":   "func (t {{.Name}}) X() int {\n\treturn 1\n}\n",
		"plain.go": "package app\n\nfunc F() {}\n",
	})
	target := filepath.Join(dir, "model_gen.go")
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	cfg := testConfig()
	r, err := newRunner(ctx, cfg, &stdout, &stderr)
	require.NoError(t, err)

	rep, err := r.run(ctx, []string{dir + "/..."})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stats.ModuleCount)
	assert.Equal(t, 1, rep.Stats.GeneratedCount)
	assert.Equal(t, 1, rep.Stats.FileCount)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, output.IsGenerated(data))
	assert.Contains(t, string(data), "package app")
	assert.Contains(t, string(data), "func (t T) X() int {\n\treturn 1\n}")
	assert.NoFileExists(t, filepath.Join(dir, "plain_gen.go"))

	t.Run("再次运行不重写", func(t *testing.T) {
		rep, err := r.run(ctx, []string{dir + "/..."})
		require.NoError(t, err)
		// 已生成的文件不作为模块
		assert.Equal(t, 2, rep.Stats.ModuleCount)
		assert.Zero(t, rep.Stats.FileCount)
	})

	t.Run("检查模式报告过期文件", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x.tmpl"), []byte("func (t {{.Name}}) Y() int {\n\treturn 2\n}\n"), 0o644))
		stdout.Reset()

		checkCfg := *cfg
		checkCfg.Check = true
		checker, err := newRunner(ctx, &checkCfg, &stdout, &stderr)
		require.NoError(t, err)

		rep, err := checker.run(ctx, []string{dir + "/..."})
		require.NoError(t, err)
		assert.Equal(t, []string{target}, rep.Stale)
		assert.Contains(t, stdout.String(), "+func (t T) Y() int {")

		// 文件未被修改
		after, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, data, after)
	})

	t.Run("标记移除后删除输出", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.go"), []byte("package app\n\ntype T struct{}\n"), 0o644))
		rep, err := r.run(ctx, []string{dir + "/..."})
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Stats.FileCount)
		assert.NoFileExists(t, target)
	})
}

func TestRunner_FailedModuleKeepsOutput(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.go": "package app\n\n// @Template(file=missing.tmpl)\ntype A struct{}\n",
		"b.go": "package app\n\n// @Template(text=\"var B = 1\")\ntype B struct{}\n",
	})
	ctx := context.Background()

	var stdout, stderr bytes.Buffer
	r, err := newRunner(ctx, testConfig(), &stdout, &stderr)
	require.NoError(t, err)

	rep, err := r.run(ctx, []string{dir})
	require.Error(t, err)
	var invErr *plugin.InvocationError
	assert.ErrorAs(t, err, &invErr)

	assert.Equal(t, 1, rep.Stats.FailedCount)
	assert.NoFileExists(t, filepath.Join(dir, "a_gen.go"))
	assert.FileExists(t, filepath.Join(dir, "b_gen.go"))
}

func TestRunner_MissingPluginLocation(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	cfg.Plugins = []string{filepath.Join(dir, "missing"), filepath.Join(dir, "also-missing")}

	// 指定的位置都没有插件时，即使有内置生成器也在扫描前失败
	r, err := newRunner(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Nil(t, r)
	assert.ErrorIs(t, err, plugin.ErrNoPlugins)
}

func TestConsoleSink(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	var buf bytes.Buffer
	sink := newConsoleSink(&buf)
	sink.Report(plugin.Diagnostic{
		Severity:  plugin.SevWarning,
		Position:  token.Position{Filename: "a.go", Line: 3, Column: 1},
		Message:   "注意",
		Generator: "demo",
	})
	sink.Report(plugin.Diagnostic{Severity: plugin.SevError, Message: "失败"})

	assert.Equal(t, "a.go:3:1: warning: [demo] 注意\nerror: 失败\n", buf.String())
}

func TestCollectWatchDirs(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.go":               "package app\n",
		"sub/b.go":           "package sub\n",
		"sub/deep/c.go":      "package deep\n",
		"vendor/v/v.go":      "package v\n",
		"testdata/t.go":      "package t\n",
		".hidden/h.go":       "package h\n",
		"_ignored/i.go":      "package i\n",
		"sub/testdata/x.txt": "x",
	})

	dirs, err := collectWatchDirs([]string{dir + "/..."})
	require.NoError(t, err)
	assert.Equal(t, []string{
		dir,
		filepath.Join(dir, "sub"),
		filepath.Join(dir, "sub", "deep"),
	}, dirs)

	dirs, err = collectWatchDirs([]string{filepath.Join(dir, "sub"), filepath.Join(dir, "a.go")})
	require.NoError(t, err)
	assert.Equal(t, []string{dir, filepath.Join(dir, "sub")}, dirs)

	_, err = collectWatchDirs([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestDevRunner_Relevant(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"marked.go":    "package app\n\n// @Template(text=\"var X = 1\")\ntype T struct{}\n",
		"plain.go":     "package app\n\nvar s = \"@Template\"\n",
		"a_test.go":    "package app\n\n// @Template\ntype X struct{}\n",
		"model_gen.go": plugin.Preamble + "\npackage app\n",
	})
	d := &devRunner{runner: &runner{cfg: testConfig()}, suffix: output.DefaultSuffix}

	assert.True(t, d.relevant(filepath.Join(dir, "marked.go")))
	assert.False(t, d.relevant(filepath.Join(dir, "plain.go")))
	assert.False(t, d.relevant(filepath.Join(dir, "a_test.go")))
	assert.False(t, d.relevant(filepath.Join(dir, "model_gen.go")))
	assert.False(t, d.relevant(filepath.Join(dir, "x.tmpl")))
	// 已删除的文件也会触发重新生成
	assert.True(t, d.relevant(filepath.Join(dir, "removed.go")))
}

func TestDevRunner_HandleEvent(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"写入", fsnotify.Write, true},
		{"删除", fsnotify.Remove, true},
		{"改名", fsnotify.Rename, true},
		{"权限变化", fsnotify.Chmod, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &devRunner{
				runner:   &runner{cfg: testConfig()},
				debounce: time.Hour,
				suffix:   output.DefaultSuffix,
				log:      logging.Discard(),
				pending:  make(map[string]*time.Timer),
			}
			defer d.stop()

			d.handleEvent(context.Background(), fsnotify.Event{Name: filepath.Join(dir, "model.go"), Op: tt.op})

			d.mu.Lock()
			_, scheduled := d.pending[dir]
			d.mu.Unlock()
			assert.Equal(t, tt.want, scheduled)
		})
	}
}

func TestRootCmd(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})
		require.NoError(t, cmd.Execute())
		assert.True(t, strings.HasPrefix(out.String(), "markgen "))
	})

	t.Run("plugins", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"plugins", "--log-level=error"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "@Template - templategen")
	})

	t.Run("无效参数", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"gen", "--log-format=xml", "--syntax-only"})
		assert.Error(t, cmd.Execute())
	})
}
