// 包 crawl 实现单个订阅源的翻页状态机：
// 抓取一页 → 按页面顺序抽取并落盘全部帖子 → 解析下一页游标，直至终止或致命错误。
// 同一页内的落盘通过有界 worker 池并行，整页完成后才会前进。
package crawl

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"go-soup-backup/internal/archive"
	"go-soup-backup/internal/extract"
	"go-soup-backup/internal/fetch"
	"go-soup-backup/internal/logx"
	"go-soup-backup/internal/model"
	"go-soup-backup/internal/rules"
)

// Getter 为页面抓取协作方。仅传输层失败返回 error，HTTP 状态码在 Response 中。
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Persister 为归档存储协作方。
type Persister interface {
	Persist(ctx context.Context, p model.Post, c model.Content) archive.Outcome
	Archived(p model.Post) bool
}

// BackoffPolicy 为 5xx/网络错误的封顶指数退避：Base·2^(n-1)，不超过 Max，最多 Retries 次。
type BackoffPolicy struct {
	Base    time.Duration
	Max     time.Duration
	Retries int
}

// Delay 返回第 attempt 次重试前的等待时间（attempt 从 1 开始）。
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

type Options struct {
	Resume         string // 续传游标，任意写法
	Preset         rules.Preset
	Workers        int // 单页内并行落盘的帖子数
	Backoff        BackoffPolicy
	StopAtArchived bool // 整页帖子均已归档时提前结束
	Observe        func(State)
	Sleep          func(ctx context.Context, d time.Duration) error
}

// Result 为一次遍历的汇总。
type Result struct {
	Feed       string    `json:"feed"`
	State      StateKind `json:"state"`
	Status     int       `json:"status,omitempty"`
	Pages      int       `json:"pages"`
	LastCursor string    `json:"last_cursor,omitempty"`
	Posts      int       `json:"posts"`
	Written    int       `json:"written"`
	Skipped    int       `json:"skipped"`
	Gaps       int       `json:"gaps"`
	Errors     int       `json:"errors"`
	Bytes      int64     `json:"bytes"`
}

// Walker 为单个订阅源的翻页器。一个 Walker 只运行一次。
type Walker struct {
	feed  model.Feed
	get   Getter
	store Persister
	opt   Options
	log   logx.Logger
}

func New(feed model.Feed, get Getter, store Persister, opt Options) *Walker {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.Backoff.Base <= 0 {
		opt.Backoff.Base = 2 * time.Second
	}
	if opt.Backoff.Max < opt.Backoff.Base {
		opt.Backoff.Max = opt.Backoff.Base
	}
	if opt.Preset.Item == "" {
		opt.Preset = rules.Default()
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepCtx
	}
	return &Walker{feed: feed, get: get, store: store, opt: opt, log: logx.With("feed", feed.Name)}
}

// Run 从根页面或续传游标开始遍历，直到 Done 或 FailedFatal。
// FailedFatal 时返回 *StatusError；ctx 取消时返回 ctx.Err()。已落盘的产物始终有效。
func (w *Walker) Run(ctx context.Context) (Result, error) {
	res := Result{Feed: w.feed.Name}
	start := Normalize(w.opt.Resume, w.feed.Root)
	if start == "" {
		start = "/"
	}
	visited := map[string]bool{}
	var page *extract.Page
	attempt := 0
	st := State{Kind: Fetching, Cursor: start}

	for {
		w.observe(st)
		switch st.Kind {
		case Fetching:
			url := w.pageURL(st.Cursor)
			visited[visitKey(url)] = true
			resp, err := w.get.Get(ctx, url)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			status := 0
			if err == nil {
				status = resp.Status
			}
			switch {
			case err == nil && status >= 200 && status < 300:
				p, perr := extract.ParsePage(resp.Body, url, w.opt.Preset)
				if perr != nil {
					w.log.Errorf("页面解析失败：%s 错误=%v", url, perr)
					st = State{Kind: FailedFatal, Status: status}
					continue
				}
				page, attempt = p, 0
				st = State{Kind: Processing, Cursor: st.Cursor, Posts: len(p.Entries)}
			case err != nil || status >= http.StatusInternalServerError:
				attempt++
				if err != nil {
					w.log.Warnf("抓取失败：%s 错误=%v", url, err)
				}
				if attempt > w.opt.Backoff.Retries {
					w.log.Errorf("重试 %d 次后仍失败：%s 状态=%d", w.opt.Backoff.Retries, url, status)
					st = State{Kind: FailedFatal, Status: status}
					continue
				}
				st = State{Kind: Backoff, Cursor: st.Cursor, Status: status, Attempt: attempt, Delay: w.opt.Backoff.Delay(attempt)}
			default:
				w.log.Errorf("抓取失败：%s 状态=%d，终止该订阅源", url, status)
				st = State{Kind: FailedFatal, Status: status}
			}

		case Backoff:
			w.log.Warnf("服务端错误 状态=%d，%s 后第 %d 次重试", st.Status, st.Delay, st.Attempt)
			if err := w.opt.Sleep(ctx, st.Delay); err != nil {
				return res, err
			}
			st = State{Kind: Fetching, Cursor: st.Cursor, Attempt: st.Attempt}

		case Processing:
			res.Pages++
			allArchived := w.process(ctx, page, &res)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			next := Normalize(page.Cursor, w.feed.Root)
			if w.opt.StopAtArchived && allArchived && next != "" {
				w.log.Infof("本页帖子均已归档，提前结束")
				next = ""
			}
			page = nil
			st = State{Kind: Advancing, Cursor: next}

		case Advancing:
			if st.Cursor == "" {
				st = State{Kind: Done}
				continue
			}
			if visited[visitKey(w.pageURL(st.Cursor))] {
				w.log.Warnf("下一页游标已访问过：%s，停止翻页", st.Cursor)
				st = State{Kind: Done}
				continue
			}
			res.LastCursor = st.Cursor
			st = State{Kind: Fetching, Cursor: st.Cursor}

		case Done:
			res.State = Done
			w.log.Infof("完成：页数=%d 帖子=%d 新写入=%d 缺失=%d 写入量=%s",
				res.Pages, res.Posts, res.Written, res.Gaps, humanize.Bytes(uint64(res.Bytes)))
			return res, nil

		case FailedFatal:
			res.State, res.Status = FailedFatal, st.Status
			return res, &StatusError{Feed: w.feed.Name, Status: st.Status}
		}
	}
}

// process 按页面顺序抽取内容，再用有界 worker 池并行落盘；全部完成后才返回。
// 返回值表示本页所有帖子在处理前是否都已归档。
func (w *Walker) process(ctx context.Context, page *extract.Page, res *Result) bool {
	outcomes := make([]archive.Outcome, len(page.Entries))
	allArchived := len(page.Entries) > 0

	var g errgroup.Group
	g.SetLimit(w.opt.Workers)
	for i, e := range page.Entries {
		i, e := i, e
		if w.opt.StopAtArchived && !w.store.Archived(e.Post) {
			allArchived = false
		}
		content, err := extract.Content(e)
		if err != nil {
			res.Errors++
			w.log.Warnf("帖子 %s 抽取失败，按原始标记归档：%v", e.Post.ID, err)
		}
		g.Go(func() error {
			outcomes[i] = w.store.Persist(ctx, e.Post, content)
			return nil
		})
	}
	_ = g.Wait()

	var written, skipped, gaps int
	var bytes int64
	for i, o := range outcomes {
		written += o.Count(archive.Written)
		skipped += o.Count(archive.Skipped)
		bytes += o.Bytes()
		for _, a := range o.Gaps() {
			gaps++
			w.log.Warnf("帖子 %s 产物 %s 落盘失败，下次运行重试：%v", page.Entries[i].Post.ID, a.Name, a.Err)
		}
	}
	res.Posts += len(page.Entries)
	res.Written += written
	res.Skipped += skipped
	res.Gaps += gaps
	res.Bytes += bytes
	w.log.Infof("第 %d 页：帖子=%d 新写入=%d 跳过=%d 缺失=%d 写入量=%s",
		res.Pages, len(page.Entries), written, skipped, gaps, humanize.Bytes(uint64(bytes)))
	return w.opt.StopAtArchived && allArchived
}

func (w *Walker) pageURL(cursor string) string {
	return w.feed.Root + cursor
}

func (w *Walker) observe(s State) {
	w.log.Debugf("状态：%s", s)
	if w.opt.Observe != nil {
		w.opt.Observe(s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFatal 判断 err 是否为遍历致命错误。
func IsFatal(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
