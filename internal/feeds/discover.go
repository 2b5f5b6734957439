// 包 feeds 负责订阅源描述：
// - Discover：基于常见路径与 HTML <link> 自动发现 RSS/Atom 地址
// - Describe：使用 gofeed 解析频道信息，供归档根目录的 feed.json 使用
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"go-soup-backup/internal/fetch"
	"go-soup-backup/internal/logx"
)

// Getter 为页面抓取协作方。
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Info 为订阅源的频道描述。
type Info struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Link        string     `json:"link,omitempty"`
	FeedURL     string     `json:"feed_url"`
	Language    string     `json:"language,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`
	Image       string     `json:"image,omitempty"`
	Items       int        `json:"items"`
}

// Discover 依次尝试 <root>/rss、<root>/feed，最后回退到根页面的 <link rel=alternate>。
// 返回订阅地址与已抓取的正文，避免重复请求。
func Discover(ctx context.Context, cl Getter, root string) (string, []byte, error) {
	for _, u := range []string{joinURL(root, "/rss"), joinURL(root, "/feed")} {
		logx.Debugf("探测候选订阅：%s", u)
		if body, ok := probeFeed(ctx, cl, u); ok {
			return u, body, nil
		}
	}
	resp, err := cl.Get(ctx, root)
	if err != nil {
		return "", nil, fmt.Errorf("GET site %s: %w", root, err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return "", nil, &fetch.StatusError{URL: root, Status: resp.Status}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", nil, fmt.Errorf("parse html: %w", err)
	}
	var found string
	doc.Find("link").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		t, _ := s.Attr("type")
		href, _ := s.Attr("href")
		lt, lr := strings.ToLower(t), strings.ToLower(rel)
		if strings.Contains(lr, "alternate") && (strings.Contains(lt, "rss") || strings.Contains(lt, "atom")) {
			found = joinURL(root, href)
			return false
		}
		return true
	})
	if found != "" {
		if body, ok := probeFeed(ctx, cl, found); ok {
			logx.Debugf("从 <link> 发现订阅：%s", found)
			return found, body, nil
		}
	}
	return "", nil, fmt.Errorf("no feed discovered for %s", root)
}

// Describe 发现并解析订阅源的频道信息。
func Describe(ctx context.Context, cl Getter, root string) (*Info, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	feedURL, body, err := Discover(reqCtx, cl, root)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	info := &Info{
		Title:       safe(feed.Title),
		Description: safe(feed.Description),
		Link:        safe(feed.Link),
		FeedURL:     feedURL,
		Language:    safe(feed.Language),
		Updated:     pickTime(feed.UpdatedParsed, feed.PublishedParsed),
		Items:       len(feed.Items),
	}
	if feed.Image != nil {
		info.Image = safe(feed.Image.URL)
	}
	return info, nil
}

// probeFeed 粗略判断 URL 是否为订阅（根据状态码、Content-Type 与正文嗅探）。
func probeFeed(ctx context.Context, cl Getter, feedURL string) ([]byte, bool) {
	prCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	resp, err := cl.Get(prCtx, feedURL)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		return nil, false
	}
	ct := strings.ToLower(resp.ContentType)
	if strings.Contains(ct, "rss") || strings.Contains(ct, "atom") || strings.Contains(ct, "xml") {
		return resp.Body, true
	}
	head := resp.Body
	if len(head) > 2048 {
		head = head[:2048]
	}
	lb := strings.ToLower(string(head))
	if strings.Contains(lb, "<rss") || strings.Contains(lb, "<feed") || strings.Contains(lb, "<rdf") {
		return resp.Body, true
	}
	return nil, false
}

// joinURL 将相对路径解析为绝对 URL。
func joinURL(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return u.ResolveReference(ru).String()
}

func pickTime(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

func safe(s string) string { return strings.TrimSpace(s) }
