// 包 extract 负责把分页 HTML 解析为帖子外壳与按类型区分的内容变体：
// - ParsePage：定位帖子容器、读取外壳字段、提取下一页游标
// - Content：按帖子类型抽取内容（纯函数，无 I/O）
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"go-soup-backup/internal/model"
	"go-soup-backup/internal/rules"
)

// Entry 为页面上的一个帖子：外壳字段 + 其内容 DOM 片段。
type Entry struct {
	Post    model.Post
	content *goquery.Selection
	base    string
}

// Page 为解析后的分页：帖子按页面顺序排列；Cursor 为空表示终止页。
type Page struct {
	model.Page
	Entries []Entry
}

// ParsePage 解析一页 HTML。pageURL 用于把相对链接绝对化。
func ParsePage(body []byte, pageURL string, p rules.Preset) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page html %s: %w", pageURL, err)
	}
	page := &Page{Page: model.Page{URL: pageURL, Cursor: NextCursor(doc.Selection, p.NextMarker)}}
	doc.Find(p.Item).Each(func(_ int, s *goquery.Selection) {
		e := parseEntry(s, pageURL, p)
		page.Entries = append(page.Entries, e)
		page.Posts = append(page.Posts, e.Post)
	})
	return page, nil
}

func parseEntry(s *goquery.Selection, base string, p rules.Preset) Entry {
	tag := kindTag(s, p.KindPrefix)
	kind, _ := model.ParseKind(strings.TrimPrefix(tag, p.KindPrefix))
	id, _ := s.Attr("id")
	raw, _ := goquery.OuterHtml(s)
	post := model.Post{
		ID:        strings.TrimPrefix(strings.TrimSpace(id), p.IDPrefix),
		Kind:      kind,
		Tag:       tag,
		Timestamp: parseTime(getVal(s, p.Timestamp)),
		Author:    abs(base, getVal(s, p.Author)),
		Permalink: abs(base, getVal(s, p.Permalink)),
		NSFW:      p.NSFWClass != "" && s.HasClass(p.NSFWClass),
		Raw:       raw,
	}
	s.Find(p.Tags).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		post.Tags = append(post.Tags, model.Tag{Link: abs(base, href), Name: normText(a.Text())})
	})
	content := s.Find(p.Content).First()
	if content.Length() == 0 {
		content = s
	}
	return Entry{Post: post, content: content, base: base}
}

// kindTag 返回第一个带前缀的类名，例如 post_image；没有时返回空串。
func kindTag(s *goquery.Selection, prefix string) string {
	class, _ := s.Attr("class")
	for _, c := range strings.Fields(class) {
		if prefix != "" && strings.HasPrefix(c, prefix) && c != prefix {
			return c
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339,
	"Jan 02 2006 15:04:05 MST",
	"Jan 2 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime 无法解析时返回 nil：缺失时间是合法的，帖子归入 unknown 分桶。
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// NextCursor 在包含 marker 的 <script> 中查找下一页游标：取最后一对引号之间的文本。
func NextCursor(scope *goquery.Selection, marker string) string {
	if marker == "" {
		return ""
	}
	var cursor string
	scope.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, marker) {
			return true
		}
		cursor = lastQuoted(text[strings.Index(text, marker):])
		return false
	})
	return cursor
}

func lastQuoted(text string) string {
	for _, q := range []string{"'", `"`} {
		parts := strings.Split(text, q)
		if len(parts) >= 3 {
			return strings.TrimSpace(parts[len(parts)-2])
		}
	}
	return ""
}
