// 包 model 定义归档的数据模型：订阅源、页面、帖子、内容变体与元数据记录。
package model

import (
	"strings"
	"time"
)

// Feed 表示一个远端内容流（按名称解析到根地址），在一次运行中不可变。
type Feed struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

// NewFeed 由名称与可选根地址构造 Feed；root 为空时使用 http://<name>.soup.io。
func NewFeed(name, root string) Feed {
	root = strings.TrimRight(strings.TrimSpace(root), "/")
	if root == "" {
		root = "http://" + name + ".soup.io"
	}
	return Feed{Name: name, Root: root}
}

// Kind 为帖子的封闭分类。
type Kind int

const (
	KindUnrecognized Kind = iota
	KindImage
	KindQuote
	KindLink
	KindVideo
	KindFile
	KindReview
	KindEvent
	KindRegular
)

var kindNames = [...]string{
	KindUnrecognized: "unrecognized",
	KindImage:        "image",
	KindQuote:        "quote",
	KindLink:         "link",
	KindVideo:        "video",
	KindFile:         "file",
	KindReview:       "review",
	KindEvent:        "event",
	KindRegular:      "regular",
}

// Kinds 返回全部 Kind（含 KindUnrecognized），按定义顺序。
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnrecognized]
	}
	return kindNames[k]
}

// MarshalText 使 Kind 在 JSON 中以名称出现。
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseKind 将类名（去掉前缀后，如 "image"）映射为 Kind；未知返回 KindUnrecognized 与 false。
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if Kind(k) != KindUnrecognized && n == name {
			return Kind(k), true
		}
	}
	return KindUnrecognized, false
}

// Tag 为帖子的标签（链接 + 显示名）。
type Tag struct {
	Link string `json:"link"`
	Name string `json:"name"`
}

// Post 为归档的原子单元。Timestamp 为空表示页面未提供时间。
type Post struct {
	ID        string
	Kind      Kind
	Tag       string // 原始类型标记，例如 post_poll
	Timestamp *time.Time
	Author    string
	Permalink string
	NSFW      bool
	Tags      []Tag
	Raw       string // 帖子原始标记（outer HTML）
}

// Page 为一次抓取到的分页单元；Cursor 为空表示终止页。
type Page struct {
	URL    string
	Posts  []Post
	Cursor string
}

// Record 为每个帖子落盘的元数据记录（post.json）。
type Record struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Timestamp *time.Time `json:"timestamp"`
	Author    string     `json:"author"`
	Permalink string     `json:"permalink"`
	NSFW      bool       `json:"nsfw"`
	Tags      []Tag      `json:"tags"`
	Content   Content    `json:"content"`
	Assets    []string   `json:"assets,omitempty"`
	Gaps      []string   `json:"gaps,omitempty"` // 最近一次写入时仍缺失的资源；补齐后记录随之重写
}

// NewRecord 由帖子与内容组装元数据记录；Kind 以内容变体为准（回退时为 unrecognized）。
func NewRecord(p Post, c Content) Record {
	tags := p.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return Record{
		ID:        p.ID,
		Kind:      c.Kind(),
		Timestamp: p.Timestamp,
		Author:    p.Author,
		Permalink: p.Permalink,
		NSFW:      p.NSFW,
		Tags:      tags,
		Content:   c,
	}
}
