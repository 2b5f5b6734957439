// 命令行入口：
// - 解析参数与 settings.yaml/rules.yaml/.env
// - 初始化日志与 HTTP 客户端
// - 逐个订阅源增量归档，打印汇总表并可选导出运行报告
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-soup-backup/internal/aggregate"
	"go-soup-backup/internal/config"
	"go-soup-backup/internal/export"
	"go-soup-backup/internal/fetch"
	"go-soup-backup/internal/logx"
	"go-soup-backup/internal/rules"
)

// errFeedFailed 表示至少一个订阅源以 FailedFatal 结束，进程以非零状态退出。
var errFeedFailed = errors.New("one or more feeds failed")

type options struct {
	configPath string
	rulesPath  string
	envPath    string
	dir        string
	resume     string
	reportPath string
	describe   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFeedFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "soup-backup [feed...]",
		Short: "Incrementally archive soup.io style feeds to a local directory.",
		Long: "Walks each feed backward page by page and writes every post, its assets and its raw markup\n" +
			"into <dir>/<feed>/<year>/<month>. Re-running skips everything already on disk; pass the\n" +
			"logged resume cursor with --resume to continue an interrupted run.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "settings.yaml", "path to settings.yaml (optional)")
	f.StringVar(&o.rulesPath, "rules", "rules.yaml", "path to rules.yaml (optional)")
	f.StringVar(&o.envPath, "env", ".env", "path to .env (optional)")
	f.StringVarP(&o.dir, "dir", "d", "", "archive root directory (overrides ARCHIVE.dir)")
	f.StringVarP(&o.resume, "resume", "r", "", "resume cursor, e.g. /since/555 (single feed only)")
	f.StringVar(&o.reportPath, "report", "", "write a JSON run report to this path")
	f.BoolVar(&o.describe, "describe", true, "fetch the feed's RSS description into feed.json")
	return cmd
}

func run(cmd *cobra.Command, args []string, o options) error {
	// 1) 加载 .env、配置与规则
	config.LoadDotEnv(o.envPath)
	cfg, err := config.LoadOptional(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cfg, args, o); err != nil {
		return err
	}
	var rl *rules.Rules
	if o.rulesPath != "" {
		r, err := rules.Load(o.rulesPath)
		switch {
		case err == nil:
			rl = r
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("load rules: %w", err)
		}
	}

	// 2) 初始化日志：级别/格式/语言/颜色
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)

	// 3) 初始化 HTTP 客户端（代理/超时/限速/资源重试）
	cl, err := fetch.New(fetch.Options{
		Proxy:        cfg.HTTP.Proxy,
		Timeout:      cfg.HTTP.Timeout,
		AssetTimeout: cfg.HTTP.AssetTimeout,
		UserAgent:    cfg.HTTP.UserAgent,
		RatePerSec:   cfg.HTTP.RatePerSec,
		Retry:        cfg.HTTP.Retry,
	})
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4) 运行归档
	started := time.Now()
	runner := aggregate.New(cfg, cl, rl)
	if err := runner.Run(ctx); err != nil {
		logx.Warnf("运行被中断：%v", err)
	}

	// 5) 汇总与报告
	report := export.NewReport(started, time.Now(), runner.Results())
	export.Table(cmd.OutOrStdout(), report)
	if o.reportPath != "" {
		if err := export.ToJSON(report, o.reportPath); err != nil {
			return fmt.Errorf("export report: %w", err)
		}
		logx.Infof("已导出运行报告 %s", o.reportPath)
	}
	if runner.Failed() {
		return errFeedFailed
	}
	return ctx.Err()
}

// applyFlags 用命令行参数覆盖配置：位置参数替换 FEEDS（同名条目沿用配置中的 url/preset），
// --resume 仅在单个订阅源时生效。
func applyFlags(cfg *config.Config, args []string, o options) error {
	if o.dir != "" {
		cfg.Archive.Dir = o.dir
	}
	if !o.describe {
		cfg.SkipFeedInfo = true
	}
	if len(args) > 0 {
		known := map[string]config.Feed{}
		for _, f := range cfg.Feeds {
			known[f.Name] = f
		}
		feeds := make([]config.Feed, 0, len(args))
		for _, name := range args {
			f, ok := known[name]
			if !ok {
				f = config.Feed{Name: name}
			}
			feeds = append(feeds, f)
		}
		cfg.Feeds = feeds
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if len(cfg.Feeds) == 0 {
		return errors.New("no feeds given: pass feed names as arguments or set FEEDS in settings.yaml")
	}
	if o.resume != "" {
		if len(cfg.Feeds) != 1 {
			return errors.New("--resume requires exactly one feed")
		}
		cfg.Feeds[0].Resume = o.resume
	}
	return nil
}
