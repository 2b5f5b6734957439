package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// getVal 解析表达式并支持使用 "||" 作为回退分隔，例如："a.lightbox@href||img@src"。
func getVal(scope *goquery.Selection, expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	for _, p := range strings.Split(expr, "||") {
		if v := getValSingle(scope, strings.TrimSpace(p)); v != "" {
			return v
		}
	}
	return ""
}

// getValSingle 解析单个表达式：文本或属性读取。
// "." 取当前节点文本，"@attr" 取当前节点属性。
func getValSingle(scope *goquery.Selection, expr string) string {
	if expr == "" {
		return ""
	}
	if expr == "." {
		return normText(scope.Text())
	}
	if at := strings.LastIndex(expr, "@"); at != -1 {
		sel := strings.TrimSpace(expr[:at])
		attr := strings.TrimSpace(expr[at+1:])
		el := scope
		if sel != "" {
			el = scope.Find(sel).First()
		}
		val, _ := el.Attr(attr)
		return strings.TrimSpace(val)
	}
	return normText(scope.Find(expr).First().Text())
}

// getHTML 返回首个匹配节点的内部标记（去除首尾空白）。
func getHTML(scope *goquery.Selection, sel string) string {
	el := scope.Find(sel).First()
	if el.Length() == 0 {
		return ""
	}
	h, err := el.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}

var reSpace = regexp.MustCompile(`\s+`)

// normText 折叠空白。
func normText(s string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

// abs 将相对链接转换为绝对 URL。
func abs(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		if bu, err := url.Parse(base); err == nil && bu.Scheme != "" {
			return bu.Scheme + ":" + ref
		}
		return "http:" + ref
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
