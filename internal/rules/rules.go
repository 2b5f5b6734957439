// 包 rules 负责加载并提供页面解析规则（rules.yaml），
// 以预设名组织帖子外壳字段与翻页脚本标记的选择器；未配置的字段回退到内置默认值。
package rules

import (
	"fmt"
	"io"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Rules 表示全部规则集合：键为预设名，值为具体规则。
type Rules struct {
	Presets map[string]Preset `yaml:",inline"`
}

// Preset 为单个预设。表达式语法与 extract 包一致：
// - 文本：".author"
// - 属性："abbr@title"
// - 回退：使用 "||" 连接多个候选
type Preset struct {
	Item       string `yaml:"item"`        // 每个帖子容器
	KindPrefix string `yaml:"kind_prefix"` // 类型类名前缀，如 post_
	IDPrefix   string `yaml:"id_prefix"`   // id 属性前缀，如 post
	NSFWClass  string `yaml:"nsfw_class"`
	Timestamp  string `yaml:"timestamp"`
	Author     string `yaml:"author"`
	Permalink  string `yaml:"permalink"`
	Tags       string `yaml:"tags"`    // 每个标签链接
	Content    string `yaml:"content"` // 内容根节点
	NextMarker string `yaml:"next_marker"`
}

// Default 返回 soup.io 页面结构的内置预设。
func Default() Preset {
	return Preset{
		Item:       "div.post",
		KindPrefix: "post_",
		IDPrefix:   "post",
		NSFWClass:  "f_nsfw",
		Timestamp:  ".time abbr@title||.time abbr",
		Author:     ".author a@href||.author",
		Permalink:  ".meta a.permalink@href||.icon.type a@href",
		Tags:       ".tags a",
		Content:    ".content",
		NextMarker: "SOUP.Endless.next_url",
	}
}

func Load(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var r Rules
	if err := yaml.Unmarshal(b, &r.Presets); err != nil {
		return nil, fmt.Errorf("unmarshal rules %s: %w", path, err)
	}
	return &r, nil
}

// GetPreset 按名称获取预设（不区分大小写），为空或不存在则回退到 "default"；
// 返回值总是补全了内置默认字段。第二个返回值表示是否命中了文件中的预设。
func (r *Rules) GetPreset(name string) (Preset, bool) {
	p, ok := r.lookup(name)
	if err := mergo.Merge(&p, Default()); err != nil {
		// 同类型结构体合并不会失败，保底返回默认值
		return Default(), false
	}
	return p, ok
}

func (r *Rules) lookup(name string) (Preset, bool) {
	if r == nil || len(r.Presets) == 0 {
		return Preset{}, false
	}
	if name == "" {
		name = "default"
	}
	if p, ok := r.Presets[name]; ok {
		return p, true
	}
	lower := strings.ToLower(name)
	for k, v := range r.Presets {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	for k, v := range r.Presets {
		if strings.ToLower(k) == "default" {
			return v, true
		}
	}
	return Preset{}, false
}
