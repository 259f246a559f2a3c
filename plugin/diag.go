package plugin

import (
	"fmt"
	"go/token"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/donutnomad/markgen/internal/logging/logfields"
)

// Severity 诊断级别
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "info"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	}
	return "unknown"
}

// Diagnostic 生成器上报的诊断事件
type Diagnostic struct {
	Severity  Severity       `json:"severity"`
	Position  token.Position `json:"position"`
	Message   string         `json:"message"`
	Generator string         `json:"generator,omitempty"`
	Marker    string         `json:"marker,omitempty"`
}

func (d Diagnostic) String() string {
	prefix := ""
	if d.Position.IsValid() {
		prefix = d.Position.String() + ": "
	}
	if d.Generator != "" {
		return fmt.Sprintf("%s%s: [%s] %s", prefix, d.Severity, d.Generator, d.Message)
	}
	return fmt.Sprintf("%s%s: %s", prefix, d.Severity, d.Message)
}

// ProgressSink 实时接收诊断事件，不做批量缓冲
type ProgressSink interface {
	Report(d Diagnostic)
}

// SinkFunc 函数形式的 ProgressSink
type SinkFunc func(d Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// NopSink 丢弃所有诊断
var NopSink ProgressSink = SinkFunc(func(Diagnostic) {})

// Collector 收集诊断，可被多个模块并发写入
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// Items 返回已收集诊断的副本
func (c *Collector) Items() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.items...)
}

// HasErrors 是否存在 error 级别的诊断
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].Severity >= SevError {
			return true
		}
	}
	return false
}

// LogSink 把诊断写入日志
type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) Report(d Diagnostic) {
	entry := s.Log.WithFields(logrus.Fields{
		logfields.Generator: d.Generator,
		logfields.Marker:    d.Marker,
	})
	if d.Position.IsValid() {
		entry = entry.WithField(logfields.Module, d.Position.String())
	}
	switch d.Severity {
	case SevError:
		entry.Error(d.Message)
	case SevWarning:
		entry.Warn(d.Message)
	default:
		entry.Info(d.Message)
	}
}

// MultiSink 把诊断依次转发给多个 sink
func MultiSink(sinks ...ProgressSink) ProgressSink {
	return SinkFunc(func(d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s.Report(d)
			}
		}
	})
}

// taggingSink 为单次调用的诊断补齐生成器、标记和位置，并记录是否出现过错误
// 生成器内部可能并发上报
type taggingSink struct {
	mu        sync.Mutex
	next      ProgressSink
	generator string
	marker    string
	position  token.Position
	errors    int
}

func (s *taggingSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *taggingSink) Report(d Diagnostic) {
	if d.Generator == "" {
		d.Generator = s.generator
	}
	if d.Marker == "" {
		d.Marker = s.marker
	}
	if !d.Position.IsValid() {
		d.Position = s.position
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Severity >= SevError {
		s.errors++
	}
	s.next.Report(d)
}
