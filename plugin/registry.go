package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/logging/logfields"
)

// Ambiguity 同一标记被多个生成器声明
// 后注册者生效，前者被替换
type Ambiguity struct {
	Marker   string
	Replaced Registration
	Winner   Registration
}

// entry 标记对应的注册项，生成器实例在首次使用时构造
type entry struct {
	reg  Registration
	once sync.Once
	gen  Generator
}

func (e *entry) instance() Generator {
	e.once.Do(func() {
		gen, err := e.reg.Factory()
		if err == nil && gen == nil {
			err = errors.New("factory 返回了 nil")
		}
		if err != nil {
			err = errors.Wrapf(err, "构造生成器 %q 失败", e.reg.Name)
			gen = failedGenerator{err: err}
		}
		e.gen = gen
	})
	return e.gen
}

// failedGenerator 构造失败的生成器，调用时返回构造错误
type failedGenerator struct{ err error }

func (f failedGenerator) Generate(_ context.Context, _ *GenerateContext, _ ProgressSink) (*GenerateResult, error) {
	return nil, f.err
}

// Registry 标记注册表
// 标记名 -> 生成器，一个标记最多绑定一个生成器
type Registry struct {
	mu  sync.RWMutex
	log logrus.FieldLogger

	// markers 标记名 -> 注册项
	markers map[string]*entry

	ambiguities []Ambiguity
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

func WithRegistryLogger(l logrus.FieldLogger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry 创建新的注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:     logging.Subsys("registry"),
		markers: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register 注册生成器
// 标记已被绑定时后注册者生效，记录歧义并输出警告，返回 true
func (r *Registry) Register(reg Registration) (bool, error) {
	if reg.Marker == "" {
		return false, errors.Errorf("生成器 %q 没有声明标记", reg.Name)
	}
	if reg.Factory == nil {
		return false, errors.Errorf("生成器 %q 没有 factory", reg.Name)
	}
	if reg.Source == "" {
		reg.Source = SourceBuiltin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, replaced := r.markers[reg.Marker]
	if replaced {
		r.ambiguities = append(r.ambiguities, Ambiguity{
			Marker:   reg.Marker,
			Replaced: existing.reg,
			Winner:   reg,
		})
		r.log.WithFields(logrus.Fields{
			logfields.Marker:    reg.Marker,
			logfields.Generator: reg.Name,
			logfields.Plugin:    reg.Source,
		}).Warnf("标记 @%s 已被生成器 %q (%s) 绑定，改由后注册的 %q 处理",
			reg.Marker, existing.reg.Name, existing.reg.Source, reg.Name)
	}
	r.markers[reg.Marker] = &entry{reg: reg}
	return replaced, nil
}

// MustRegister 注册生成器，失败时 panic
func (r *Registry) MustRegister(reg Registration) {
	if _, err := r.Register(reg); err != nil {
		panic(err)
	}
}

// RegisterGenerator 注册已构造好的生成器
func (r *Registry) RegisterGenerator(meta Metadata, gen Generator) (bool, error) {
	return r.Register(NewRegistration(meta, gen))
}

// Unregister 取消标记绑定
func (r *Registry) Unregister(marker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.markers[marker]; !ok {
		return errors.Errorf("标记 @%s 未注册", marker)
	}
	delete(r.markers, marker)
	return nil
}

// Resolve 根据标记名获取生成器
// 未注册返回 false，不是错误；同一次运行中结果稳定
func (r *Registry) Resolve(marker string) (Generator, bool) {
	e, ok := r.resolve(marker)
	if !ok {
		return nil, false
	}
	return e.instance(), true
}

func (r *Registry) resolve(marker string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markers[marker]
	return e, ok
}

// Lookup 返回标记对应的注册信息
func (r *Registry) Lookup(marker string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.markers[marker]
	if !ok {
		return Registration{}, false
	}
	return e.reg, true
}

// Registrations 返回所有注册项，按标记名排序
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Registration, 0, len(r.markers))
	for _, e := range r.markers {
		result = append(result, e.reg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Marker < result[j].Marker
	})
	return result
}

// Markers 返回所有已注册的标记名，已排序
func (r *Registry) Markers() []string {
	regs := r.Registrations()
	result := make([]string, len(regs))
	for i, reg := range regs {
		result[i] = reg.Marker
	}
	return result
}

// Len 已注册标记数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// IsRegistered 检查标记是否已注册
func (r *Registry) IsRegistered(marker string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markers[marker]
	return ok
}

// Ambiguities 返回注册过程中出现的标记冲突
func (r *Registry) Ambiguities() []Ambiguity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Ambiguity(nil), r.ambiguities...)
}

// Clone 复制注册表，已构造的实例不共享
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Registry{
		log:         r.log,
		markers:     make(map[string]*entry, len(r.markers)),
		ambiguities: append([]Ambiguity(nil), r.ambiguities...),
	}
	for k, e := range r.markers {
		c.markers[k] = &entry{reg: e.reg}
	}
	return c
}

// 全局注册表
var globalRegistry = NewRegistry()

// Global 返回全局注册表
func Global() *Registry {
	return globalRegistry
}

// Register 向全局注册表注册生成器
func Register(reg Registration) (bool, error) {
	return globalRegistry.Register(reg)
}

// MustRegister 向全局注册表注册生成器，失败时 panic
func MustRegister(reg Registration) {
	globalRegistry.MustRegister(reg)
}
