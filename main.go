package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/donutnomad/markgen/internal/config"
	"github.com/donutnomad/markgen/internal/frontend"
	"github.com/donutnomad/markgen/internal/logging"
	"github.com/donutnomad/markgen/plugin"
)

// errStale 检查模式下存在过期文件，只影响退出码
var errStale = errors.New("生成文件已过期")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errStale) {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "markgen [路径...]",
		Short: "基于标记的 Go 代码生成工具",
		Long: `markgen 扫描源文件中类型与文件上的 @Marker 标记，
把每个标记交给绑定的生成器，并把所有片段合并为与源文件对应的生成文件。

路径支持 Go 包模式，例如 ./...（默认）、./pkg/...、./models`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(cmd, args)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "gen [路径...]",
			Short: "执行代码生成（默认命令）",
			RunE:  runGen,
		},
		&cobra.Command{
			Use:   "dev [路径...]",
			Short: "开发模式，监听文件变动自动生成",
			RunE:  runDev,
		},
		&cobra.Command{
			Use:   "plugins",
			Short: "列出已注册的生成器与标记",
			Args:  cobra.NoArgs,
			RunE:  runPlugins,
		},
		&cobra.Command{
			Use:   "version",
			Short: "显示版本信息",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "markgen %s\n", version())
			},
		},
	)
	return root
}

// loadConfig 读取配置并初始化日志
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	vp, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "获取工作目录失败")
	}
	// 不在模块内时只使用命令行参数与环境变量
	root, _, _ := frontend.FindProjectRoot(wd)

	cfg, err := config.Load(vp, root)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		logging.Subsys("config").Debugf("使用配置文件 %s", cfg.ConfigFile)
	}
	return cfg, nil
}

func runGen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	r, err := newRunner(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	rep, err := r.run(ctx, args)
	if rep != nil {
		r.printSummary(rep)
	}
	if merr := r.writeMetrics(); merr != nil {
		r.log.WithError(merr).Warn("写入指标文件失败")
	}
	if err != nil {
		return err
	}
	if len(rep.Stale) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d 个生成文件已过期，请运行 markgen 重新生成\n", len(rep.Stale))
		return errStale
	}
	return nil
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, err := newRunner(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "已注册的标记:")
	fmt.Fprint(cmd.OutOrStdout(), plugin.FormatHelpText(r.registry))
	for _, a := range r.registry.Ambiguities() {
		fmt.Fprintf(cmd.OutOrStdout(), "  注意: @%s 被多次注册，使用 %s (%s)\n", a.Marker, a.Winner.Name, a.Winner.Source)
	}
	return nil
}

func version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "(devel)"
	}
	return info.Main.Version
}
