package aggregate

import (
	"sort"
	"sync"

	"go-soup-backup/internal/crawl"
)

// ResultBuffer 收集各订阅源的遍历结果，供报告导出。
type ResultBuffer struct {
	mu      sync.Mutex
	results map[string]crawl.Result // key: feed name
}

func NewResultBuffer() *ResultBuffer {
	return &ResultBuffer{results: make(map[string]crawl.Result)}
}

func (b *ResultBuffer) Add(r crawl.Result) {
	if r.Feed == "" {
		return
	}
	b.mu.Lock()
	b.results[r.Feed] = r
	b.mu.Unlock()
}

// Snapshot 返回按订阅源名称排序的副本。
func (b *ResultBuffer) Snapshot() []crawl.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]crawl.Result, 0, len(b.results))
	for _, v := range b.results {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feed < out[j].Feed })
	return out
}
