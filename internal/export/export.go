// 包 export 负责运行报告：把各订阅源的遍历结果写为 JSON 文件，并在终端打印汇总表。
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"go-soup-backup/internal/crawl"
)

// Report 为一次运行的报告。
type Report struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Feeds    []crawl.Result `json:"feeds"`
}

// NewReport 生成带随机运行 id 的报告。
func NewReport(started, finished time.Time, results []crawl.Result) Report {
	if results == nil {
		results = []crawl.Result{}
	}
	return Report{RunID: uuid.NewString(), Started: started, Finished: finished, Feeds: results}
}

// ToJSON 将报告写入 JSON 文件（带缩进格式）。
func ToJSON(r Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode json to %s: %w", path, err)
	}
	return nil
}

// Table 在 w 上打印汇总表。
func Table(w io.Writer, r Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"feed", "state", "pages", "posts", "written", "skipped", "gaps", "errors", "size", "resume"})
	var pages, posts, written, gaps int
	var bytes int64
	for _, res := range r.Feeds {
		state := res.State.String()
		if res.State == crawl.FailedFatal {
			state = fmt.Sprintf("%s(%d)", state, res.Status)
		}
		t.AppendRow(table.Row{
			res.Feed, state, res.Pages, res.Posts, res.Written, res.Skipped, res.Gaps, res.Errors,
			humanize.Bytes(uint64(res.Bytes)), res.LastCursor,
		})
		pages += res.Pages
		posts += res.Posts
		written += res.Written
		gaps += res.Gaps
		bytes += res.Bytes
	}
	t.AppendFooter(table.Row{"total", r.Finished.Sub(r.Started).Round(time.Second).String(), pages, posts, written, "", gaps, "", humanize.Bytes(uint64(bytes)), ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
