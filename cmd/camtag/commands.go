package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/app"
	"github.com/John-Robertt/camtag/internal/domain"
	"github.com/John-Robertt/camtag/internal/geo"
	"github.com/John-Robertt/camtag/internal/permission"
	"github.com/John-Robertt/camtag/internal/settings"
)

func newStartupCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "startup",
		Short: "确保资产目录存在，并按 autoDeleteDays 清理超龄资产",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			rep, err := a.Startup(cmd.Context())
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			return closeApp(a, emitSweepReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), rep))
		},
	}
}

func newSweepCmd(g *globalOpts) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "执行一次 retention（默认使用设置中的 autoDeleteDays）",
		Long: `执行一次 retention：删除资产目录中修改时间早于 N 天的 .mp4 文件（恰好 N 天的保留）。

N 默认取设置 autoDeleteDays；--days 覆盖。N<=0 时什么都不做。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			n := days
			if !cmd.Flags().Changed("days") {
				s, err := a.Settings()
				if err != nil {
					return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
				}
				n = s.AutoDeleteDays
			}
			rep, err := a.Sweep(cmd.Context(), n)
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			return closeApp(a, emitSweepReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), rep))
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "最大保留天数（覆盖设置）")
	return cmd
}

func newFinalizeCmd(g *globalOpts) *cobra.Command {
	var locate bool
	cmd := &cobra.Command{
		Use:   "finalize <raw.mp4>",
		Short: "把一个临时录制文件保存为资产",
		Long: `把临时录制文件复制为资产目录下的 VID_<毫秒>.mp4，删除源文件，登记图库并写入元数据。

--locate 时先定位一次（遵循设置 locationEnabled 与已保存的定位权限），把结果作为位置标签。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			s, err := a.Settings()
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}

			var tag *domain.LocationTag
			if locate && s.LocationEnabled {
				granted, err := a.Permissions(nil).Granted()
				if err != nil {
					return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
				}
				tag = pollOnce(cmd, a, granted).Tag
			}

			asset, rep, err := a.Finalizer.Finalize(cmd.Context(), args[0], s, tag)
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			emitFinalize(cmd.OutOrStdout(), cmd.ErrOrStderr(), asset, rep)
			return closeApp(a, nil)
		},
	}
	cmd.Flags().BoolVar(&locate, "locate", false, "保存前定位一次并附带位置标签")
	return cmd
}

func newLocateCmd(g *globalOpts) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "定位一次并输出叠加层文本",
		Long: `定位一次并做逆地理编码。定位或编码失败时降级输出（只有时间戳，或只有坐标）。

首次使用需要授权：终端上会询问；--yes 直接授权。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}

			var p permission.Prompter = permission.Terminal{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
			if yes {
				p = permission.Static(true)
			}
			granted, err := a.Permissions(p).Ensure(cmd.Context())
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}

			r := pollOnce(cmd, a, granted)
			if isTTY(cmd.OutOrStdout()) {
				fmt.Fprintln(cmd.OutOrStdout(), r.Stamp())
			} else {
				emitJSON(cmd.OutOrStdout(), r)
			}
			if !granted {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", domain.StatusPermission)
			} else if r.Degraded != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "降级：%s\n", r.Degraded)
			}
			return closeApp(a, nil)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "不询问，直接授予定位权限")
	return cmd
}

// pollOnce 定位一次；定位源报告权限被拒时把已保存的权限改为 denied。
func pollOnce(cmd *cobra.Command, a *app.App, granted bool) domain.PollResult {
	r := a.Enricher.Poll(cmd.Context(), geo.Policy{Enabled: true, Permitted: granted})
	if r.PermissionRevoked {
		if err := a.Permissions(nil).Revoke(); err != nil {
			a.Logger.Warn("记录权限撤销失败", zap.Error(err))
		}
	}
	return r
}

func newSettingsCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "查看或修改用户设置（resolution / locationEnabled / autoDeleteDays）",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "输出当前设置",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			s, err := a.Settings()
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			emitSettings(cmd, s)
			return closeApp(a, nil)
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "修改一项设置",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			s, err := a.Settings()
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			s, err = settings.Apply(s, args[0], args[1])
			if err != nil {
				return closeApp(a, &exitError{code: 2, err: err})
			}
			if err := settings.Save(a.Store, s); err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err))
			}
			emitSettings(cmd, s)
			return closeApp(a, nil)
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func emitSettings(cmd *cobra.Command, s domain.Settings) {
	m := settings.Encode(s)
	if !isTTY(cmd.OutOrStdout()) {
		emitJSON(cmd.OutOrStdout(), m)
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, m[k])
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.LocationBadge())
}
