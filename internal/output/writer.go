// Package output 把生成结果写入磁盘
package output

import (
	"bytes"
	"os"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
	"github.com/donutnomad/markgen/plugin"
)

// Action 对输出文件执行的动作
type Action int

const (
	Unchanged Action = iota
	Written
	Removed
	Stale // 检查模式下内容与磁盘不一致
)

func (a Action) String() string {
	switch a {
	case Unchanged:
		return "unchanged"
	case Written:
		return "written"
	case Removed:
		return "removed"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Change 单个输出文件的处理结果
type Change struct {
	Path   string
	Action Action
	Diff   string // 仅检查模式
}

// Writer 写入或检查生成文件
type Writer struct {
	suffix string
	check  bool
	log    logrus.FieldLogger
}

type WriterOption func(*Writer)

// WithSuffix 默认输出文件后缀
func WithSuffix(suffix string) WriterOption {
	return func(w *Writer) {
		if suffix != "" {
			w.suffix = suffix
		}
	}
}

// WithCheck 检查模式只比较，不写入
func WithCheck(check bool) WriterOption {
	return func(w *Writer) { w.check = check }
}

func WithWriterLogger(l logrus.FieldLogger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{
		suffix: DefaultSuffix,
		log:    logging.Subsys("output"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IsGenerated 内容是否由 markgen 生成
func IsGenerated(data []byte) bool {
	return bytes.HasPrefix(data, []byte(plugin.Preamble))
}

// Write 处理一个模块的输出
// 模块没有产生内容时，删除之前生成的文件；不会覆盖或删除手写的文件
func (w *Writer) Write(out *plugin.ModuleOutput) (*Change, error) {
	path, err := Path(out.Module, w.suffix)
	if err != nil {
		return nil, err
	}
	change := &Change{Path: path, Action: Unchanged}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "读取 %s 失败", path)
	}
	exists := err == nil

	if !out.Generated {
		if !exists || !IsGenerated(existing) {
			return change, nil
		}
		if w.check {
			change.Action = Stale
			change.Diff = unifiedDiff(path, existing, nil)
			return change, nil
		}
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrapf(err, "删除过期文件 %s 失败", path)
		}
		change.Action = Removed
		w.log.WithField(logfields.Path, path).Info("删除过期的生成文件")
		return change, nil
	}

	if exists && bytes.Equal(existing, out.Source) {
		return change, nil
	}
	if exists && !IsGenerated(existing) {
		return nil, errors.Errorf("%s 不是生成的文件，拒绝覆盖", path)
	}
	if w.check {
		change.Action = Stale
		change.Diff = unifiedDiff(path, existing, out.Source)
		return change, nil
	}

	if err := renameio.WriteFile(path, out.Source, 0o644); err != nil {
		return nil, errors.Wrapf(err, "写入 %s 失败", path)
	}
	change.Action = Written
	w.log.WithField(logfields.Path, path).Info("生成文件")
	return change, nil
}

func unifiedDiff(path string, current, want []byte) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(want)),
		FromFile: path,
		ToFile:   path + " (generated)",
		Context:  3,
	})
	if err != nil {
		return err.Error()
	}
	return diff
}
