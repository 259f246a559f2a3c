// Package metrics 生成流水线的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/donutnomad/markgen/plugin"
)

const namespace = "markgen"

// 调用结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Metrics 实现 plugin.Observer，使用独立的注册表
type Metrics struct {
	registry *prometheus.Registry

	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	Modules            *prometheus.CounterVec
	Files              *prometheus.CounterVec
}

var _ plugin.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Number of generator invocations",
	}, []string{"generator", "outcome"})

	m.InvocationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invocation_duration_seconds",
		Help:      "Duration of generator invocations",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	}, []string{"generator"})

	m.Modules = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "modules_total",
		Help:      "Number of processed source files by status",
	}, []string{"status"})

	m.Files = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_total",
		Help:      "Number of output files by action",
	}, []string{"action"})

	m.registry.MustRegister(m.Invocations, m.InvocationDuration, m.Modules, m.Files)
	return m
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) InvocationDone(generator string, elapsed time.Duration, err error) {
	outcome := OutcomeSuccess
	switch {
	case plugin.IsCanceled(err):
		outcome = OutcomeCanceled
	case err != nil:
		outcome = OutcomeFailure
	}
	m.Invocations.WithLabelValues(generator, outcome).Inc()
	m.InvocationDuration.WithLabelValues(generator).Observe(elapsed.Seconds())
}

func (m *Metrics) ModuleDone(_ string, status plugin.ModuleStatus) {
	m.Modules.WithLabelValues(string(status)).Inc()
}

// FileDone 记录输出文件的处理动作
func (m *Metrics) FileDone(action string) {
	m.Files.WithLabelValues(action).Inc()
}

// WriteTextfile 以 Prometheus 文本格式写入文件，供 node_exporter textfile 收集
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "写入指标文件 %s 失败", path)
	}
	return nil
}
