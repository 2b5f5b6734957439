package crawl

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/purell"
)

// StateKind 为翻页状态机的状态。Done 与 FailedFatal 为终态。
type StateKind int

const (
	Fetching StateKind = iota
	Processing
	Advancing
	Done
	FailedFatal
	Backoff
)

var stateNames = [...]string{
	Fetching:    "fetching",
	Processing:  "processing",
	Advancing:   "advancing",
	Done:        "done",
	FailedFatal: "failed_fatal",
	Backoff:     "backoff",
}

func (k StateKind) String() string {
	if k < 0 || int(k) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[k]
}

func (k StateKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Terminal 报告是否为终态。
func (k StateKind) Terminal() bool { return k == Done || k == FailedFatal }

// State 为一次状态迁移的快照。
//   - Fetching/Backoff：Cursor 为待抓取游标，Attempt 为第几次重试
//   - Processing：Cursor 为当前页游标，Posts 为该页帖子数
//   - Advancing：Cursor 为下一页游标，空表示没有下一页
//   - Backoff/FailedFatal：Status 为触发的 HTTP 状态码（0 表示网络错误）
type State struct {
	Kind    StateKind
	Cursor  string
	Status  int
	Delay   time.Duration
	Attempt int
	Posts   int
}

func (s State) String() string {
	switch s.Kind {
	case Fetching, Processing:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Cursor)
	case Advancing:
		if s.Cursor == "" {
			return "advancing(none)"
		}
		return fmt.Sprintf("advancing(%s)", s.Cursor)
	case Backoff:
		return fmt.Sprintf("backoff(%d, %s)", s.Status, s.Delay)
	case FailedFatal:
		return fmt.Sprintf("failed_fatal(%d)", s.Status)
	default:
		return s.Kind.String()
	}
}

// StatusError 表示某个订阅源的遍历以 FailedFatal 结束。
type StatusError struct {
	Feed   string
	Status int
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("feed %s: traversal failed: network error", e.Feed)
	}
	return fmt.Sprintf("feed %s: traversal failed: http status %d", e.Feed, e.Status)
}

// Normalize 把游标的各种写法统一成以 / 开头的路径：
// 去掉订阅源根地址或任意 http(s)://host 前缀；纯数字视为 /since/<n>。
// 空游标返回空串。
func Normalize(cursor, root string) string {
	c := strings.TrimSpace(cursor)
	if c == "" {
		return ""
	}
	root = strings.TrimRight(root, "/")
	switch {
	case root != "" && hasRootPrefix(c, root):
		c = strings.TrimPrefix(c, root)
	case strings.HasPrefix(c, "http://"), strings.HasPrefix(c, "https://"), strings.HasPrefix(c, "//"):
		rest := c[strings.Index(c, "//")+2:]
		if i := strings.IndexAny(rest, "/?"); i >= 0 {
			c = rest[i:]
		} else {
			c = ""
		}
	}
	if c != "" && isDigits(c) {
		return "/since/" + c
	}
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// visitKey 为已访问集合的键：同一页面的不同写法归一。
func visitKey(url string) string {
	k, err := purell.NormalizeURLString(url,
		purell.FlagsUsuallySafeGreedy|purell.FlagRemoveFragment|purell.FlagSortQuery)
	if err != nil {
		return url
	}
	return k
}

// hasRootPrefix 要求 root 之后紧跟 '/'、'?' 或结束，避免 kitten.soup.io.evil.net 之类的主机被误截。
func hasRootPrefix(c, root string) bool {
	if !strings.HasPrefix(c, root) {
		return false
	}
	rest := c[len(root):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
