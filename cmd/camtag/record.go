package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/camtag/internal/capture"
	"github.com/John-Robertt/camtag/internal/permission"
)

// stopWait 是退出时等待进行中录制收尾的上限。
const stopWait = 30 * time.Second

func newRecordCmd(g *globalOpts) *cobra.Command {
	var (
		spool  string
		settle time.Duration
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "交互式录制（外部录制进程写入 spool 目录）",
		Long: `启动一个 capture session：执行启动 retention，开始定位轮询，然后从 stdin 读取命令。

  r  开始录制（spool 目录下出现 .camtag-request.json，外部录制进程据此开始写入 .mp4）
  s  停止录制（请求文件被删除；等待写入静默后保存最后一个 .mp4）
  f  切换前后摄像头（仅空闲时）
  i  查看状态与叠加层文本
  q  退出（进行中的录制会先停止并保存）`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, g)
			if err != nil {
				return fail(cmd.OutOrStdout(), cmd.ErrOrStderr(), err)
			}
			stderr := cmd.ErrOrStderr()

			if _, err := a.Startup(cmd.Context()); err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), stderr, err))
			}

			if spool == "" {
				spool = filepath.Join(filepath.Dir(a.Config.StorePath), "spool")
			} else if abs, err := filepath.Abs(spool); err == nil {
				spool = abs
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			in := bufio.NewReader(cmd.InOrStdin())
			prompter := permission.Terminal{In: in, Out: stderr}
			ui := newStatusUI(stderr)
			dev := &capture.SpoolDevice{Dir: spool, Settle: settle, Logger: a.Logger.Named("spool")}

			sess, err := a.NewSession(ctx, dev, ui, prompter)
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), stderr, err))
			}
			s := sess.Settings()
			ui.printHeader(a.Config, s, spool)

			// 定位开启时先走一次权限流程，让轮询立即可用；拒绝只影响位置标签。
			if s.LocationEnabled {
				if _, err := a.Permissions(prompter).Ensure(ctx); err != nil {
					a.Logger.Warn("定位权限流程失败", zap.Error(err))
				}
			}
			a.RunBackground(ctx, sess)

			err = commandLoop(ctx, in, stderr, sess, ui)
			shutdown(sess, ui, a.Logger, stopWait)
			cancel()

			fmt.Fprintf(stderr, "本次保存 %d 个视频\n", ui.savedCount())
			if err != nil {
				return closeApp(a, fail(cmd.OutOrStdout(), stderr, err))
			}
			return closeApp(a, nil)
		},
	}
	cmd.Flags().StringVar(&spool, "spool", "", "外部录制进程写入的目录（默认 <store_path 所在目录>/spool）")
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "停止后等待写入静默的时长")
	return cmd
}

// commandLoop 逐行读取命令直到 q 或 EOF。
func commandLoop(ctx context.Context, in *bufio.Reader, w io.Writer, sess *capture.Session, ui *statusUI) error {
	for {
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := errors.Is(err, io.EOF)

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
		case "r", "start":
			if err := sess.Start(ctx); err != nil {
				fmt.Fprintf(w, "无法开始：%v\n", err)
			}
		case "s", "stop":
			if err := sess.Stop(); err != nil {
				fmt.Fprintf(w, "无法停止：%v\n", err)
			}
		case "f", "flip", "switch":
			f, err := sess.SwitchDevice()
			if err != nil {
				fmt.Fprintf(w, "无法切换：%v\n", err)
			} else {
				fmt.Fprintf(w, "镜头: %s\n", f)
			}
		case "i", "info", "status":
			if _, err := sess.RefreshSettings(); err != nil {
				fmt.Fprintf(w, "读取设置失败：%v\n", err)
			}
			ui.printSession(sess)
		case "q", "quit", "exit":
			return nil
		default:
			fmt.Fprintf(w, "未知命令：%q（r/s/f/i/q）\n", strings.TrimSpace(line))
		}
		if eof {
			return nil
		}
	}
}

// shutdown 停止进行中的录制并等待 finalize 结束，然后关闭 session。
func shutdown(sess *capture.Session, ui *statusUI, log *zap.Logger, wait time.Duration) {
	if sess.State() == capture.Recording {
		if err := sess.Stop(); err != nil {
			log.Warn("退出时停止录制失败", zap.Error(err))
		}
	}
	if st := sess.State(); st != capture.Idle {
		timer := time.NewTimer(wait)
		select {
		case <-ui.idleSignal():
		case <-timer.C:
			log.Warn("退出时录制仍未结束", zap.String("state", sess.State().String()))
		}
		timer.Stop()
	}
	sess.Close()
}
