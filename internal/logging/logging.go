package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/donutnomad/markgen/internal/logging/logfields"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultLogger 全局默认日志器，Setup 之前输出到 stderr
var DefaultLogger = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return l
}

// Setup 根据级别和格式配置 DefaultLogger
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "无效的日志级别 %q", level)
	}
	DefaultLogger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", FormatText:
		DefaultLogger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
		})
	case FormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("无效的日志格式 %q (可选: text, json)", format)
	}
	return nil
}

// Subsys 返回带子系统字段的日志器
func Subsys(name string) logrus.FieldLogger {
	return DefaultLogger.WithField(logfields.LogSubsys, name)
}

// Discard 返回丢弃所有输出的日志器，测试中使用
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
