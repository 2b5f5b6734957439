package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/purell"

	"go-soup-backup/internal/model"
)

const maxNameLen = 128

// Digest 对逻辑内容做 sha256，返回前 32 个十六进制字符。各部分以 NUL 分隔，避免拼接歧义。
func Digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// AssetName 由资源 URL 推导稳定文件名：取规范化后路径的最后一段；
// 取不到可用名称时退化为 <prefix>_<digest(url)>。
// 以 .json/.html 结尾的名称加 asset_ 前缀，不会与同一分桶中任何帖子的记录文件重名。
func AssetName(prefix, rawURL string) string {
	return reserveRecordNames(assetName(prefix, rawURL))
}

func assetName(prefix, rawURL string) string {
	norm, err := purell.NormalizeURLString(rawURL, purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		norm = strings.TrimSpace(rawURL)
	}
	var seg string
	if u, err := url.Parse(norm); err == nil {
		seg = path.Base(u.Path)
	}
	name := sanitize(seg)
	if name == "" {
		return prefix + "_" + Digest(norm)
	}
	if len(name) > maxNameLen {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		return prefix + "_" + Digest(norm) + ext
	}
	return name
}

// RecordKey 为帖子元数据文件的主名：帖子 id；无 id 时为 <kind>_<digest(raw)>。
// 以 asset_ 开头的 id 加 post_ 前缀，与资源文件名空间分开。
func RecordKey(p model.Post) string {
	if id := sanitize(p.ID); id != "" {
		if strings.HasPrefix(id, assetPrefix) {
			return "post_" + id
		}
		return id
	}
	return p.Kind.String() + "_" + Digest(p.Raw)
}

const assetPrefix = "asset_"

func reserveRecordNames(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".html":
		return assetPrefix + name
	}
	return name
}

// sanitize 仅保留 [A-Za-z0-9._-]，其余替换为 '_'，并去掉开头的点（临时文件以点开头）。
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if strings.Trim(out, "_") == "" {
		return ""
	}
	return out
}
