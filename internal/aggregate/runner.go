// 包 aggregate 负责主流程编排：
// - 为每个订阅源准备归档目录与频道描述（feed.json）
// - 并发运行各订阅源的翻页器，互不影响
// - 汇总每个订阅源的结果
package aggregate

import (
	"context"
	"path/filepath"
	"sync"

	"go-soup-backup/internal/archive"
	"go-soup-backup/internal/config"
	"go-soup-backup/internal/crawl"
	"go-soup-backup/internal/feeds"
	"go-soup-backup/internal/fetch"
	"go-soup-backup/internal/logx"
	"go-soup-backup/internal/model"
	"go-soup-backup/internal/rules"
)

// Runner 聚合执行器，持有配置/HTTP 客户端/规则。
type Runner struct {
	cfg   *config.Config
	rules *rules.Rules
	fetch *fetch.Client
	buf   *ResultBuffer
	// Observe 可选：接收每个订阅源的状态迁移
	Observe func(feed string, s crawl.State)
}

// New 创建 Runner。
func New(cfg *config.Config, cl *fetch.Client, rl *rules.Rules) *Runner {
	return &Runner{cfg: cfg, fetch: cl, rules: rl, buf: NewResultBuffer()}
}

// Run 运行 cfg.Feeds 中的全部订阅源；单个订阅源失败不影响其它订阅源。
func (r *Runner) Run(ctx context.Context) error {
	if len(r.cfg.Feeds) == 0 {
		logx.Warnf("没有配置任何订阅源")
		return nil
	}
	logx.Infof("订阅源=%d，并发=%d，归档目录=%s", len(r.cfg.Feeds), r.cfg.Concurrency.Feeds, r.cfg.Archive.Dir)

	sem := make(chan struct{}, max(1, r.cfg.Concurrency.Feeds))
	var wg sync.WaitGroup
	for _, f := range r.cfg.Feeds {
		f := f
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.processFeed(ctx, f)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// processFeed 处理单个订阅源：频道描述→翻页归档→记录结果。
func (r *Runner) processFeed(ctx context.Context, f config.Feed) {
	feed := model.NewFeed(f.Name, f.URL)
	log := logx.With("feed", feed.Name)
	st := archive.New(filepath.Join(r.cfg.Archive.Dir, feed.Name), archive.Options{
		Bucket:  r.cfg.Archive.Bucket,
		Fetcher: r.fetch,
	})

	if !r.cfg.SkipFeedInfo {
		r.describe(ctx, log, feed, st)
	}

	presetName := f.Preset
	if presetName == "" {
		presetName = r.cfg.RulesPreset
	}
	preset, _ := r.rules.GetPreset(presetName)

	w := crawl.New(feed, r.fetch, st, crawl.Options{
		Resume:  f.Resume,
		Preset:  preset,
		Workers: r.cfg.Concurrency.Assets,
		Backoff: crawl.BackoffPolicy{
			Base:    r.cfg.Backoff.Base,
			Max:     r.cfg.Backoff.Max,
			Retries: r.cfg.Backoff.MaxRetries(),
		},
		StopAtArchived: r.cfg.StopAtArchived,
		Observe: func(s crawl.State) {
			if s.Kind == crawl.Advancing && s.Cursor != "" {
				log.Infof("续传游标：%s", s.Cursor)
			}
			if r.Observe != nil {
				r.Observe(feed.Name, s)
			}
		},
	})
	log.Infof("开始归档：%s", feed.Root)
	res, err := w.Run(ctx)
	if err != nil {
		log.Errorf("归档中止：%v", err)
	}
	r.buf.Add(res)
}

func (r *Runner) describe(ctx context.Context, log logx.Logger, feed model.Feed, st *archive.Store) {
	info, err := feeds.Describe(ctx, r.fetch, feed.Root)
	if err != nil {
		log.Warnf("获取频道描述失败：%v", err)
		return
	}
	a := st.PersistFeedInfo(info)
	switch a.Status {
	case archive.Written:
		log.Infof("已写入 feed.json：%s", info.Title)
	case archive.Failed:
		log.Warnf("写入 feed.json 失败：%v", a.Err)
	}
}

// Results 返回各订阅源的结果（按名称排序）。
func (r *Runner) Results() []crawl.Result {
	if r == nil || r.buf == nil {
		return nil
	}
	return r.buf.Snapshot()
}

// Failed 报告是否有订阅源以 FailedFatal 结束。
func (r *Runner) Failed() bool {
	for _, res := range r.Results() {
		if res.State == crawl.FailedFatal {
			return true
		}
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
