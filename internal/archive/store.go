// 包 archive 为本地归档存储：决定每个帖子的产物位置与文件名，
// 以"目标文件已存在"作为唯一的完成标记，所有写入先落临时文件再原子改名。
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go-soup-backup/internal/model"
)

// AssetFetcher 打开远端资源的字节流。
type AssetFetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options 控制分桶粒度与资源下载。
type Options struct {
	Bucket  string // year | month
	Fetcher AssetFetcher
}

// Status 为单个产物的落盘结果。
type Status int

const (
	Written Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Written:
		return "written"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// ArtifactKind 区分产物类别。
type ArtifactKind int

const (
	Metadata ArtifactKind = iota
	Raw
	Asset
	Text
)

// Artifact 为一个产物的落盘结果。Failed 时 Err 非空。
type Artifact struct {
	Name   string
	Kind   ArtifactKind
	URL    string
	Status Status
	Bytes  int64
	Err    error
}

// Outcome 为一个帖子的全部产物结果；失败互不影响。
type Outcome struct {
	Key       string
	Dir       string
	Artifacts []Artifact
}

// Count 统计处于 s 状态的产物数，不含每次都重写的原始标记旁车文件。
func (o Outcome) Count(s Status) int {
	n := 0
	for _, a := range o.Artifacts {
		if a.Kind != Raw && a.Status == s {
			n++
		}
	}
	return n
}

// Bytes 为本次实际写入的字节数。
func (o Outcome) Bytes() int64 {
	var n int64
	for _, a := range o.Artifacts {
		if a.Status == Written {
			n += a.Bytes
		}
	}
	return n
}

// Gaps 返回失败的产物，下一次运行会重试它们。
func (o Outcome) Gaps() []Artifact {
	var out []Artifact
	for _, a := range o.Artifacts {
		if a.Status == Failed {
			out = append(out, a)
		}
	}
	return out
}

// Store 为单个订阅源的归档目录。可被多个 goroutine 并发调用。
type Store struct {
	root    string
	bucket  string
	fetcher AssetFetcher
	locks   pathLocks
}

// New 创建以 root 为根目录的 Store。
func New(root string, opts Options) *Store {
	bucket := opts.Bucket
	if bucket != "year" {
		bucket = "month"
	}
	return &Store{root: root, bucket: bucket, fetcher: opts.Fetcher}
}

// Root 返回归档根目录。
func (s *Store) Root() string { return s.root }

// Bucket 返回时间所在分桶的相对目录；无时间的帖子归入 unknown。
func (s *Store) Bucket(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return "unknown"
	}
	t := ts.UTC()
	year := fmt.Sprintf("%04d", t.Year())
	if s.bucket == "year" {
		return year
	}
	return filepath.Join(year, fmt.Sprintf("%02d", int(t.Month())))
}

// MetadataPath 返回帖子元数据文件的路径。
func (s *Store) MetadataPath(p model.Post) string {
	return filepath.Join(s.root, s.Bucket(p.Timestamp), RecordKey(p)+".json")
}

// Archived 报告帖子的元数据是否已落盘。
func (s *Store) Archived(p model.Post) bool {
	return exists(s.MetadataPath(p))
}

// Persist 落盘一个帖子：文本产物与资源、元数据、原始标记旁车文件。
// 已存在的产物跳过；原始标记每次都原子重写。
func (s *Store) Persist(ctx context.Context, p model.Post, c model.Content) Outcome {
	key := RecordKey(p)
	dir := filepath.Join(s.root, s.Bucket(p.Timestamp))
	out := Outcome{Key: key, Dir: dir}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = fmt.Errorf("create bucket dir %s: %w", dir, err)
		out.Artifacts = append(out.Artifacts,
			Artifact{Name: key + ".json", Kind: Metadata, Status: Failed, Err: err},
			Artifact{Name: key + ".html", Kind: Raw, Status: Failed, Err: err},
		)
		return out
	}

	plan := planFor(c)
	var names, gaps []string

	for _, t := range plan.texts {
		a := s.writeOnce(filepath.Join(dir, t.name), Text, t.body)
		out.Artifacts = append(out.Artifacts, a)
		names = append(names, t.name)
		if a.Status == Failed {
			gaps = append(gaps, t.name)
		}
	}
	for _, ap := range plan.assets {
		a := s.download(ctx, filepath.Join(dir, ap.name), ap.url)
		out.Artifacts = append(out.Artifacts, a)
		names = append(names, ap.name)
		if a.Status == Failed {
			gaps = append(gaps, ap.url)
		}
	}

	rec := model.NewRecord(p, c)
	rec.Assets = names
	rec.Gaps = gaps
	out.Artifacts = append(out.Artifacts, s.writeRecord(filepath.Join(dir, key+".json"), rec))

	out.Artifacts = append(out.Artifacts, s.writeAlways(filepath.Join(dir, key+".html"), Raw, []byte(p.Raw)))
	return out
}

// PersistFeedInfo 在根目录写入 feed.json（已存在则跳过）。
func (s *Store) PersistFeedInfo(v any) Artifact {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Artifact{Name: "feed.json", Kind: Metadata, Status: Failed, Err: err}
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Artifact{Name: "feed.json", Kind: Metadata, Status: Failed, Err: err}
	}
	return s.writeOnce(filepath.Join(s.root, "feed.json"), Metadata, append(b, '\n'))
}

func (s *Store) writeOnce(path string, kind ArtifactKind, data []byte) Artifact {
	a := Artifact{Name: filepath.Base(path), Kind: kind}
	defer s.locks.lock(path)()
	if exists(path) {
		a.Status = Skipped
		return a
	}
	return s.write(a, path, data)
}

// writeRecord 写入元数据记录。已存在的记录保持不变，
// 除非本次的缺口比记录中的少（之前失败的资源已补齐），此时原子重写。
func (s *Store) writeRecord(path string, rec model.Record) Artifact {
	a := Artifact{Name: filepath.Base(path), Kind: Metadata}
	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		a.Status, a.Err = Failed, err
		return a
	}
	defer s.locks.lock(path)()
	if exists(path) && !s.gapsShrank(path, rec.Gaps) {
		a.Status = Skipped
		return a
	}
	return s.write(a, path, append(meta, '\n'))
}

// gapsShrank 报告 gaps 是否少于 path 处记录中的缺口；记录不可读时视为未变化。
func (s *Store) gapsShrank(path string, gaps []string) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var old struct {
		Gaps []string `json:"gaps"`
	}
	if err := json.Unmarshal(b, &old); err != nil {
		return false
	}
	return len(gaps) < len(old.Gaps)
}

func (s *Store) writeAlways(path string, kind ArtifactKind, data []byte) Artifact {
	a := Artifact{Name: filepath.Base(path), Kind: kind}
	defer s.locks.lock(path)()
	return s.write(a, path, data)
}

func (s *Store) write(a Artifact, path string, data []byte) Artifact {
	n, err := writeAtomic(path, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
	if err != nil {
		a.Status, a.Err = Failed, err
		return a
	}
	a.Status, a.Bytes = Written, n
	return a
}

var errNoFetcher = errors.New("archive: no asset fetcher configured")

func (s *Store) download(ctx context.Context, path, url string) Artifact {
	a := Artifact{Name: filepath.Base(path), Kind: Asset, URL: url}
	defer s.locks.lock(path)()
	if exists(path) {
		a.Status = Skipped
		return a
	}
	if s.fetcher == nil {
		a.Status, a.Err = Failed, errNoFetcher
		return a
	}
	rc, err := s.fetcher.Open(ctx, url)
	if err != nil {
		a.Status, a.Err = Failed, fmt.Errorf("fetch asset %s: %w", url, err)
		return a
	}
	defer rc.Close()
	n, err := writeAtomic(path, func(w io.Writer) (int64, error) {
		return io.Copy(w, rc)
	})
	if err != nil {
		a.Status, a.Err = Failed, fmt.Errorf("store asset %s: %w", url, err)
		return a
	}
	a.Status, a.Bytes = Written, n
	return a
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
