package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/app"
	"github.com/John-Robertt/camtag/internal/config"
	"github.com/John-Robertt/camtag/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// globalOpts 是所有子命令共享的参数。
type globalOpts struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:   "camtag",
		Short: "录制带位置标注的视频，并管理本地资产目录",
		Long: `camtag 把录制产物保存为本地资产（VID_<毫秒>.mp4），附带可选的位置标签，
登记到图库索引并写入元数据；启动时按设置清理超龄资产。

配置读取顺序：环境变量（CAMTAG_*）> --config 指定的文件或 ./camtag.yaml > 内置默认值。

stdout 不是终端时，报告类命令只在 stdout 输出一个 JSON，摘要与日志走 stderr。`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "配置文件路径（指定时必须存在）")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "日志级别：debug|info|warn|error（覆盖配置）")

	root.AddCommand(
		newStartupCmd(g),
		newSweepCmd(g),
		newFinalizeCmd(g),
		newLocateCmd(g),
		newRecordCmd(g),
		newSettingsCmd(g),
	)
	return root
}

// exitError 携带进程退出码；消息已经输出过时 silent 为 true。
type exitError struct {
	code   int
	silent bool
	err    error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		if !e.silent && e.err != nil {
			fmt.Fprintf(os.Stderr, "错误：%v\n", e.err)
		}
		return e.code
	}
	fmt.Fprintf(os.Stderr, "错误：%v\n", err)
	return 1
}

// loadApp 读取配置、创建 logger 并装配组件。
func loadApp(cmd *cobra.Command, g *globalOpts) (*app.App, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("读取当前目录失败：%w", err)
	}
	eff, err := config.LoadEffective(cwd, g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		eff.Log.Level = g.logLevel
	}

	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), eff.Log.Level, eff.Log.Format)
	if err != nil {
		return nil, &config.Error{Code: config.ErrCodeInvalid, Err: err}
	}
	logger.Debug("配置已加载",
		zap.String("source", eff.Source),
		zap.String("asset_dir", eff.AssetDir),
		zap.String("store_path", eff.StorePath),
		zap.String("location_source", eff.Location.Source),
		zap.String("geocode_provider", eff.Geocode.Provider),
	)

	return app.Build(eff, logger)
}

// closeApp 关闭 App；关闭失败只追加到已有错误上。
func closeApp(a *app.App, err error) error {
	if cerr := a.Close(); cerr != nil {
		a.Logger.Warn("关闭失败", zap.Error(cerr))
		if err == nil {
			return &exitError{code: 1, err: cerr}
		}
	}
	_ = a.Logger.Sync()
	return err
}
