package pkgresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findTestProjectRoot 向上查找 go.mod 所在目录
func findTestProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("未找到 go.mod")
		}
		dir = parent
	}
}

func TestIsStdLib(t *testing.T) {
	tests := []struct {
		importPath string
		want       bool
	}{
		{"fmt", true},
		{"net/http", true},
		{"encoding/json", true},
		{"github.com/samber/lo", false},
		{"gorm.io/datatypes", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.importPath, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStdLib(tt.importPath))
		})
	}
}

func TestAssumedName(t *testing.T) {
	tests := map[string]string{
		"fmt":                             "fmt",
		"net/http":                        "http",
		"github.com/samber/lo":            "lo",
		"gopkg.in/yaml.v3":                "yaml",
		"github.com/google/renameio/v2":   "renameio",
		"github.com/mattn/go-runewidth":   "runewidth",
		"github.com/foo/bar-baz":          "bar",
		"github.com/Masterminds/sprig/v3": "sprig",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, AssumedName(input))
		})
	}
}

func TestResolver_StdLib(t *testing.T) {
	r := New("")
	assert.Equal(t, "http", r.PackageName("net/http"))
	assert.Equal(t, "json", r.PackageName("encoding/json"))
	assert.Equal(t, "", r.PackageName(""))
}

func TestResolver_ProjectInternal(t *testing.T) {
	root := findTestProjectRoot(t)
	r := New(root)

	assert.Equal(t, "realname",
		r.PackageName("github.com/donutnomad/markgen/internal/pkgresolver/testdata/mismatch"))
	assert.Equal(t, "plain",
		r.PackageName("github.com/donutnomad/markgen/internal/pkgresolver/testdata/plain"))
}

func TestResolver_Fallback(t *testing.T) {
	r := New(t.TempDir())
	assert.Equal(t, "thing", r.PackageName("example.invalid/nowhere/go-thing/v4"))
}

func TestResolver_Cache(t *testing.T) {
	r := New("")
	first := r.PackageName("strings")
	second := r.PackageName("strings")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, r.cache.len())
}

func TestReadPackageName(t *testing.T) {
	name, err := ReadPackageName(filepath.Join("testdata", "mismatch"))
	require.NoError(t, err)
	assert.Equal(t, "realname", name)

	_, err = ReadPackageName(t.TempDir())
	assert.Error(t, err)
}

func TestModulePath(t *testing.T) {
	root := findTestProjectRoot(t)
	path, err := ModulePath(root)
	require.NoError(t, err)
	assert.Equal(t, "github.com/donutnomad/markgen", path)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("go 1.22\n"), 0o644))
	_, err = ModulePath(dir)
	assert.Error(t, err)
}
