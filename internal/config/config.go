// 包 config 负责加载与校验应用配置（settings.yaml），
// 支持同目录 settings.local.yaml 覆盖与 .env/环境变量覆盖，对外提供结构体 Config 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feeds          []Feed      `yaml:"FEEDS"`
	Archive        Archive     `yaml:"ARCHIVE"`
	Concurrency    Concurrency `yaml:"CONCURRENCY"`
	Backoff        Backoff     `yaml:"BACKOFF"`
	HTTP           HTTP        `yaml:"HTTP"`
	StopAtArchived bool        `yaml:"STOP_AT_ARCHIVED"`
	SkipFeedInfo   bool        `yaml:"SKIP_FEED_INFO"`
	RulesPreset    string      `yaml:"RULES_PRESET"`
	LogLevel       string      `yaml:"LOG_LEVEL"`
	LogFormat      string      `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale      string      `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor       string      `yaml:"LOG_COLOR"`  // auto|always|never
}

type Feed struct {
	// URL 为空时使用 http://<name>.soup.io
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Resume string `yaml:"resume"`
	Preset string `yaml:"preset"`
}

type Archive struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"` // year|month
}

type Concurrency struct {
	Feeds  int `yaml:"feeds"`
	Assets int `yaml:"assets"`
}

type Backoff struct {
	Base    time.Duration `yaml:"base"`
	Max     time.Duration `yaml:"max"`
	Retries *int          `yaml:"retries"` // 未设置时为 DefaultRetries；0 表示首个 5xx 即失败
}

// DefaultRetries 为 BACKOFF.retries 未设置时的重试次数。
const DefaultRetries = 5

// MaxRetries 返回生效的重试次数。
func (b Backoff) MaxRetries() int {
	if b.Retries == nil {
		return DefaultRetries
	}
	return *b.Retries
}

type HTTP struct {
	Timeout      time.Duration `yaml:"timeout"`       // 页面请求
	AssetTimeout time.Duration `yaml:"asset_timeout"` // 资源下载（含读取正文）
	UserAgent    string        `yaml:"user_agent"`
	Proxy        string        `yaml:"proxy"`
	RatePerSec   float64       `yaml:"rate_per_sec"`
	Retry        int           `yaml:"retry"` // 资源下载重试次数
}

const DefaultUserAgent = "go-soup-backup/1.0 (+https://github.com/go-soup-backup)"

// Load 从文件读取 YAML，合并 <name>.local.<ext> 覆盖与环境变量，并校验、填充默认值。
func Load(path string) (*Config, error) {
	var c Config
	if err := readYAML(path, &c); err != nil {
		return nil, err
	}
	local := localPath(path)
	var override Config
	if err := readYAML(local, &override); err == nil {
		if err := mergo.Merge(&c, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", local, err)
		}
		// mergo 视 0 为空值，显式的 retries: 0 需单独覆盖
		if override.Backoff.Retries != nil {
			n := *override.Backoff.Retries
			c.Backoff.Retries = &n
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadOptional 与 Load 相同，但配置文件不存在时返回默认配置（仍应用环境变量）。
func LoadOptional(path string) (*Config, error) {
	c, err := Load(path)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	d := &Config{}
	d.applyEnv()
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return d, nil
}

// LoadDotEnv 加载 .env（若存在），不覆盖已有环境变量。
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func readYAML(path string, out *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return nil
}

// localPath: settings.yaml -> settings.local.yaml
func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SOUP_DIR"); v != "" {
		c.Archive.Dir = v
	}
	if v := os.Getenv("SOUP_UA"); v != "" {
		c.HTTP.UserAgent = v
	}
	if v := os.Getenv("SOUP_PROXY"); v != "" {
		c.HTTP.Proxy = v
	}
}

// Validate 负责合法性检查与默认值设置，避免在业务层分散判空逻辑。
func (c *Config) Validate() error {
	seen := map[string]bool{}
	feeds := c.Feeds[:0]
	for _, f := range c.Feeds {
		f.Name = strings.TrimSpace(f.Name)
		if err := ValidateFeedName(f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		feeds = append(feeds, f)
	}
	c.Feeds = feeds

	if c.Archive.Dir == "" {
		c.Archive.Dir = "."
	}
	switch c.Archive.Bucket {
	case "":
		c.Archive.Bucket = "month"
	case "year", "month":
	default:
		return fmt.Errorf("unsupported ARCHIVE.bucket: %s", c.Archive.Bucket)
	}
	if c.Concurrency.Feeds <= 0 {
		c.Concurrency.Feeds = 1
	}
	if c.Concurrency.Assets <= 0 {
		c.Concurrency.Assets = 4
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 2 * time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = time.Minute
	}
	if c.Backoff.Max < c.Backoff.Base {
		c.Backoff.Max = c.Backoff.Base
	}
	if c.Backoff.Retries == nil {
		n := DefaultRetries
		c.Backoff.Retries = &n
	}
	if *c.Backoff.Retries < 0 {
		return errors.New("BACKOFF.retries must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.AssetTimeout <= 0 {
		c.HTTP.AssetTimeout = 10 * time.Minute
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.HTTP.RatePerSec < 0 {
		return errors.New("HTTP.rate_per_sec must be >= 0")
	}
	if c.HTTP.Retry < 0 {
		return errors.New("HTTP.retry must be >= 0")
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// ValidateFeedName 确保订阅源名称可安全用作目录名。
func ValidateFeedName(name string) error {
	if name == "" {
		return errors.New("feed name must not be empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid feed name %q", name)
	}
	return nil
}
