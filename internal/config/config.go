// Package config 运行配置
//
// 优先级: 命令行参数 > 环境变量 (MARKGEN_*) > 项目根目录的 .markgen.yaml > 默认值
package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/internal/output"
)

// 配置项的 key，同时是命令行参数名
const (
	KeyConfig        = "config"         // string
	KeyPlugins       = "plugins"        // []string
	KeyWorkers       = "workers"        // int
	KeyFailOnError   = "fail-on-error"  // bool
	KeyOutputSuffix  = "output-suffix"  // string
	KeyCheck         = "check"          // bool
	KeyLogLevel      = "log-level"      // string
	KeyLogFormat     = "log-format"     // string
	KeyMetricsFile   = "metrics-file"   // string
	KeyTests         = "tests"          // bool
	KeySyntaxOnly    = "syntax-only"    // bool
	KeyInvokeTimeout = "invoke-timeout" // time.Duration
)

const (
	EnvPrefix  = "markgen"
	ConfigName = ".markgen"
)

// Config 一次运行的配置
type Config struct {
	Plugins       []string
	Workers       int
	FailOnError   bool
	OutputSuffix  string
	Check         bool
	LogLevel      string
	LogFormat     string
	MetricsFile   string
	Tests         bool
	SyntaxOnly    bool
	InvokeTimeout time.Duration

	// ConfigFile 实际读取的配置文件，没有时为空
	ConfigFile string
}

// RegisterFlags 注册所有配置项对应的命令行参数
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfig, "", "配置文件路径（默认为项目根目录的 .markgen.yaml）")
	fs.StringSlice(KeyPlugins, nil, "进程外插件的位置，可以是可执行文件或目录")
	fs.Int(KeyWorkers, runtime.NumCPU(), "并行处理的文件数量")
	fs.Bool(KeyFailOnError, false, "生成器上报 error 级别诊断时使该文件失败")
	fs.String(KeyOutputSuffix, output.DefaultSuffix, "默认输出文件后缀")
	fs.Bool(KeyCheck, false, "只检查生成文件是否过期，不写入")
	fs.String(KeyLogLevel, "info", "日志级别 (debug, info, warn, error)")
	fs.String(KeyLogFormat, logging.FormatText, "日志格式 (text, json)")
	fs.String(KeyMetricsFile, "", "运行结束后把指标写入该文件（Prometheus 文本格式）")
	fs.Bool(KeyTests, false, "同时处理 _test.go 文件")
	fs.Bool(KeySyntaxOnly, false, "只做语法解析，不调用 go 命令加载类型信息")
	fs.Duration(KeyInvokeTimeout, 0, "单次插件调用的超时时间，0 表示不限制")
}

// NewViper 创建绑定了命令行参数与环境变量的 viper 实例
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	vp := viper.New()
	if err := vp.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "绑定命令行参数失败")
	}
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp, nil
}

// Load 读取配置文件并生成配置
// projectRoot 为空时不查找默认配置文件
func Load(vp *viper.Viper, projectRoot string) (*Config, error) {
	if file := vp.GetString(KeyConfig); file != "" {
		vp.SetConfigFile(file)
	} else {
		vp.SetConfigName(ConfigName)
		vp.SetConfigType("yaml")
		if projectRoot != "" {
			vp.AddConfigPath(projectRoot)
		}
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || vp.GetString(KeyConfig) != "" {
			return nil, errors.Wrap(err, "读取配置文件失败")
		}
	}

	cfg := &Config{
		Plugins:       pluginLocations(vp.Get(KeyPlugins)),
		Workers:       vp.GetInt(KeyWorkers),
		FailOnError:   vp.GetBool(KeyFailOnError),
		OutputSuffix:  vp.GetString(KeyOutputSuffix),
		Check:         vp.GetBool(KeyCheck),
		LogLevel:      vp.GetString(KeyLogLevel),
		LogFormat:     vp.GetString(KeyLogFormat),
		MetricsFile:   vp.GetString(KeyMetricsFile),
		Tests:         vp.GetBool(KeyTests),
		SyntaxOnly:    vp.GetBool(KeySyntaxOnly),
		InvokeTimeout: vp.GetDuration(KeyInvokeTimeout),
		ConfigFile:    vp.ConfigFileUsed(),
	}

	// 配置文件中的相对路径相对于配置文件所在目录
	if cfg.ConfigFile != "" {
		base := filepath.Dir(cfg.ConfigFile)
		for i, p := range cfg.Plugins {
			if !filepath.IsAbs(p) {
				cfg.Plugins[i] = filepath.Join(base, p)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pluginLocations 环境变量中的位置按路径列表分隔符拆分
func pluginLocations(v any) []string {
	if s, ok := v.(string); ok {
		return filepath.SplitList(s)
	}
	var out []string
	for _, p := range cast.ToStringSlice(v) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 检查配置值
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return errors.Errorf("%s 不能为负数: %d", KeyWorkers, c.Workers)
	}
	if c.InvokeTimeout < 0 {
		return errors.Errorf("%s 不能为负数: %s", KeyInvokeTimeout, c.InvokeTimeout)
	}
	if !strings.HasSuffix(c.OutputSuffix, ".go") {
		return errors.Errorf("%s 必须以 .go 结尾: %q", KeyOutputSuffix, c.OutputSuffix)
	}
	if strings.ContainsAny(c.OutputSuffix, `/\`) {
		return errors.Errorf("%s 不能包含路径分隔符: %q", KeyOutputSuffix, c.OutputSuffix)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return errors.Errorf("%s 无效: %q (可选: text, json)", KeyLogFormat, c.LogFormat)
	}
	return nil
}
