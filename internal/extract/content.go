package extract

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"go-soup-backup/internal/model"
)

// Error 表示某类型帖子缺少必需字段：页面损坏或上游标记变更。
type Error struct {
	Kind  model.Kind
	Field string
}

func (e *Error) Error() string { return fmt.Sprintf("extract %s: missing %s", e.Kind, e.Field) }

// errUnhandledKind 表示某个 Kind 没有对应的抽取分支。
var errUnhandledKind = errors.New("extract: no extractor for kind")

// IsMissingField 判断 err 是否为必需字段缺失。
func IsMissingField(err error) bool {
	var xe *Error
	return errors.As(err, &xe)
}

// Content 按帖子类型抽取内容。总是返回可落盘的内容：
// 未知类型返回 Unrecognized；必需字段缺失时返回 *Error，同时返回携带原始标记的回退内容。
// 本函数不做任何 I/O：event 的日历地址只作为字段返回，由归档层抓取。
func Content(e Entry) (model.Content, error) {
	c, err := extractKind(e)
	if err != nil {
		return model.Fallback(e.Post, err), err
	}
	return c, nil
}

func extractKind(e Entry) (model.Content, error) {
	s, base := e.content, e.base
	switch e.Post.Kind {
	case model.KindImage:
		return image(s, base)
	case model.KindQuote:
		return quote(s)
	case model.KindLink:
		return link(s, base)
	case model.KindVideo:
		return video(s)
	case model.KindFile:
		return file(s, base)
	case model.KindReview:
		return review(s, base)
	case model.KindEvent:
		return event(s, base)
	case model.KindRegular:
		return regular(s), nil
	case model.KindUnrecognized:
		return model.Fallback(e.Post, nil), nil
	}
	return nil, fmt.Errorf("%w: %d", errUnhandledKind, int(e.Post.Kind))
}

func image(s *goquery.Selection, base string) (model.Content, error) {
	media := abs(base, getVal(s, "a.lightbox@href||.imagecontainer img@src||img@src"))
	if media == "" {
		return nil, &Error{Kind: model.KindImage, Field: "media"}
	}
	return model.Image{
		Source:      model.Opt(abs(base, getVal(s, ".caption a@href"))),
		Description: model.Opt(getHTML(s, ".description")),
		Media:       media,
	}, nil
}

func quote(s *goquery.Selection) (model.Content, error) {
	body := getVal(s, ".body")
	if body == "" {
		return nil, &Error{Kind: model.KindQuote, Field: "body"}
	}
	return model.Quote{Body: body, Attribution: getVal(s, "cite")}, nil
}

func link(s *goquery.Selection, base string) (model.Content, error) {
	u := abs(base, getVal(s, "h3 a@href"))
	if u == "" {
		return nil, &Error{Kind: model.KindLink, Field: "url"}
	}
	return model.Link{Title: getVal(s, "h3 a"), URL: u, Body: getHTML(s, ".body")}, nil
}

func video(s *goquery.Selection) (model.Content, error) {
	embed := getHTML(s, ".embed")
	if embed == "" {
		return nil, &Error{Kind: model.KindVideo, Field: "embed"}
	}
	return model.Video{Embed: embed, Body: model.Opt(getHTML(s, ".body"))}, nil
}

func file(s *goquery.Selection, base string) (model.Content, error) {
	download := abs(base, getVal(s, "a.download@href||h3 a@href"))
	if download == "" {
		return nil, &Error{Kind: model.KindFile, Field: "download"}
	}
	return model.File{
		Title:    model.Opt(getVal(s, "h3 a")),
		URL:      model.Opt(abs(base, getVal(s, "h3 a@href"))),
		Body:     getHTML(s, ".body"),
		Download: download,
	}, nil
}

func review(s *goquery.Selection, base string) (model.Content, error) {
	rating := getVal(s, "abbr.rating@title||.rating")
	if rating == "" {
		return nil, &Error{Kind: model.KindReview, Field: "rating"}
	}
	return model.Review{
		Embed:       model.Opt(getHTML(s, ".embed")),
		Description: model.Opt(getHTML(s, ".description")),
		Rating:      rating,
		Title:       getVal(s, "h3 a||h3"),
		URL:         abs(base, getVal(s, "h3 a@href")),
	}, nil
}

func event(s *goquery.Selection, base string) (model.Content, error) {
	start := getVal(s, "abbr.dtstart@title||.dtstart")
	if start == "" {
		return nil, &Error{Kind: model.KindEvent, Field: "start"}
	}
	cal := abs(base, getVal(s, "a.ical@href"))
	if cal == "" {
		return nil, &Error{Kind: model.KindEvent, Field: "calendar"}
	}
	return model.Event{
		Image:       model.Opt(abs(base, getVal(s, ".image img@src"))),
		Title:       getVal(s, "h3 a||h3"),
		URL:         abs(base, getVal(s, "h3 a@href")),
		Start:       start,
		End:         model.Opt(getVal(s, "abbr.dtend@title||.dtend")),
		Location:    getVal(s, ".location"),
		Calendar:    cal,
		Description: model.Opt(getHTML(s, ".description")),
	}, nil
}

func regular(s *goquery.Selection) model.Content {
	return model.Regular{Title: model.Opt(getVal(s, "h3")), Body: getHTML(s, ".body")}
}
