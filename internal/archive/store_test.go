package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"go-soup-backup/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	body  map[string]string
	fail  map[string]error
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{body: map[string]string{}, fail: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Open(_ context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	b, ok := f.body[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(b)), nil
}

// snapshot 读取目录下全部文件内容，用于比较两次运行后的磁盘状态。
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return out
}

func ts(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return &t
}

const mediaURL = "http://asset.soup.io/asset/1234/5678_abcd.jpeg"

func imagePost() (model.Post, model.Content) {
	p := model.Post{
		ID:        "101",
		Kind:      model.KindImage,
		Tag:       "post_image",
		Timestamp: ts(2019, time.June, 7),
		Permalink: "http://kitten.soup.io/post/101/cat",
		Raw:       `<div class="post post_image" id="post101"></div>`,
	}
	return p, model.Image{Media: mediaURL}
}

func TestPersist_Idempotent(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.body[mediaURL] = "JPEGDATA"
	s := New(root, Options{Fetcher: f})
	p, c := imagePost()

	first := s.Persist(context.Background(), p, c)
	require.Equal(t, 2, first.Count(Written), "asset + metadata")
	require.Empty(t, first.Gaps())
	require.Equal(t, filepath.Join(root, "2019", "06"), first.Dir)
	require.True(t, s.Archived(p))

	before := snapshot(t, root)
	require.Equal(t, "JPEGDATA", before["2019/06/5678_abcd.jpeg"])
	require.Equal(t, p.Raw, before["2019/06/101.html"])
	require.Contains(t, before, "2019/06/101.json")

	second := s.Persist(context.Background(), p, c)
	require.Equal(t, 0, second.Count(Written))
	require.Equal(t, 2, second.Count(Skipped))
	require.Equal(t, 1, f.calls[mediaURL], "existing asset must not be re-fetched")

	if diff := cmp.Diff(before, snapshot(t, root)); diff != "" {
		t.Fatalf("on-disk state changed (-first +second):\n%s", diff)
	}
}

func TestPersist_MetadataRecord(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.body[mediaURL] = "x"
	p, c := imagePost()
	p.NSFW = true
	New(root, Options{Fetcher: f}).Persist(context.Background(), p, c)

	b, err := os.ReadFile(filepath.Join(root, "2019", "06", "101.json"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(b, &rec))
	require.Equal(t, "101", rec["id"])
	require.Equal(t, "image", rec["kind"])
	require.Equal(t, true, rec["nsfw"])
	require.Equal(t, []any{}, rec["tags"])
	require.Equal(t, []any{"5678_abcd.jpeg"}, rec["assets"])
	require.NotContains(t, rec, "gaps")
	require.Equal(t, mediaURL, rec["content"].(map[string]any)["media"])
}

func TestPersist_UnrecognizedRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, Options{})
	raw := `<div class="post post_poll"><p>which?</p></div>`
	p := model.Post{Kind: model.KindUnrecognized, Tag: "post_poll", Raw: raw}

	out := s.Persist(context.Background(), p, model.Fallback(p, nil))
	require.Equal(t, 1, out.Count(Written))
	require.Equal(t, "unrecognized_"+Digest(raw), out.Key)

	files := snapshot(t, root)
	require.Len(t, files, 2)
	require.Equal(t, raw, files["unknown/"+out.Key+".html"])

	var rec struct {
		Kind    string             `json:"kind"`
		Content model.Unrecognized `json:"content"`
	}
	require.NoError(t, json.Unmarshal([]byte(files["unknown/"+out.Key+".json"]), &rec))
	require.Equal(t, "unrecognized", rec.Kind)
	require.Equal(t, "post_poll", rec.Content.UnknownKind)
	require.Equal(t, raw, rec.Content.Raw)
}

func TestPersist_ContentAddressedText(t *testing.T) {
	root := t.TempDir()
	s := New(root, Options{Bucket: "year"})
	q := model.Quote{Body: "Stay hungry.", Attribution: "Someone"}
	p := model.Post{ID: "102", Kind: model.KindQuote, Timestamp: ts(2019, time.June, 8), Raw: "<div/>"}

	s.Persist(context.Background(), p, q)
	name := "quote_" + Digest(q.Body, q.Attribution) + ".txt"
	b, err := os.ReadFile(filepath.Join(root, "2019", name))
	require.NoError(t, err)
	require.Equal(t, "Stay hungry.\n\n-- Someone\n", string(b))

	// 同内容的另一个帖子复用同一文件名
	p2 := p
	p2.ID = "202"
	out := s.Persist(context.Background(), p2, q)
	require.Equal(t, Skipped, out.Artifacts[0].Status)
	require.Equal(t, name, out.Artifacts[0].Name)
}

func TestPersist_AssetFailureIsAGapRetriedNextRun(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	cal := "http://kitten.soup.io/events/107.ics"
	f.fail[cal] = errors.New("connection reset")
	s := New(root, Options{Fetcher: f})
	p := model.Post{ID: "107", Kind: model.KindEvent, Timestamp: ts(2019, time.July, 1), Raw: "<div/>"}
	c := model.Event{Title: "Party", Start: "2019-07-01T20:00:00Z", Calendar: cal}

	first := s.Persist(context.Background(), p, c)
	gaps := first.Gaps()
	require.Len(t, gaps, 1)
	require.Equal(t, cal, gaps[0].URL)
	require.ErrorContains(t, gaps[0].Err, "connection reset")
	require.True(t, s.Archived(p), "metadata is written despite the asset gap")

	delete(f.fail, cal)
	f.body[cal] = "BEGIN:VCALENDAR"
	second := s.Persist(context.Background(), p, c)
	require.Empty(t, second.Gaps())
	require.Equal(t, 2, second.Count(Written), "asset + record rewritten without the gap")
	b, err := os.ReadFile(filepath.Join(root, "2019", "07", "107.ics"))
	require.NoError(t, err)
	require.Equal(t, "BEGIN:VCALENDAR", string(b))

	var rec map[string]any
	b, err = os.ReadFile(filepath.Join(root, "2019", "07", "107.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &rec))
	require.NotContains(t, rec, "gaps")
	require.Equal(t, []any{"107.ics"}, rec["assets"])

	third := s.Persist(context.Background(), p, c)
	require.Equal(t, 0, third.Count(Written), "unchanged gaps leave the record alone")
}

func TestPersist_RecordKeepsGapsWhileAssetStillFails(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	cal := "http://kitten.soup.io/events/108.ics"
	f.fail[cal] = errors.New("connection reset")
	s := New(root, Options{Fetcher: f})
	p := model.Post{ID: "108", Kind: model.KindEvent, Timestamp: ts(2019, time.July, 2), Raw: "<div/>"}
	c := model.Event{Title: "Party", Start: "2019-07-02T20:00:00Z", Calendar: cal}

	s.Persist(context.Background(), p, c)
	path := filepath.Join(root, "2019", "07", "108.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(before), cal)

	second := s.Persist(context.Background(), p, c)
	require.Len(t, second.Gaps(), 1)
	require.Equal(t, 0, second.Count(Written))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestPersist_AssetNamedLikeAnotherRecord(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	dl := "http://asset.soup.io/asset/9/102.json"
	f.body[dl] = "NOT A RECORD"
	s := New(root, Options{Fetcher: f})

	file := model.Post{ID: "101", Kind: model.KindFile, Timestamp: ts(2019, time.June, 7), Raw: "<div/>"}
	out := s.Persist(context.Background(), file, model.File{Download: dl})
	require.Empty(t, out.Gaps())

	regular := model.Post{ID: "102", Kind: model.KindRegular, Timestamp: ts(2019, time.June, 8), Raw: "<p/>"}
	out = s.Persist(context.Background(), regular, model.Regular{Body: "hello"})
	require.Equal(t, Written, out.Artifacts[0].Status, "record for post 102 is written")
	require.True(t, s.Archived(regular))

	disk := snapshot(t, root)
	require.Equal(t, "NOT A RECORD", disk["2019/06/asset_102.json"])
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(disk["2019/06/102.json"]), &rec))
	require.Equal(t, "102", rec["id"])
	require.Equal(t, "regular", rec["kind"])

	b, err := os.ReadFile(filepath.Join(root, "2019", "06", "101.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"asset_102.json"`)
}

func TestPersist_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	f := newFakeFetcher()
	f.body[mediaURL] = "x"
	p, c := imagePost()
	s := New(root, Options{Fetcher: f})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Persist(context.Background(), p, c)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.calls[mediaURL])
	for name := range snapshot(t, root) {
		require.False(t, strings.HasPrefix(filepath.Base(name), "."), "leftover temp file %s", name)
	}
}

func TestBucket(t *testing.T) {
	month := New("r", Options{})
	year := New("r", Options{Bucket: "year"})
	require.Equal(t, "unknown", month.Bucket(nil))
	require.Equal(t, filepath.Join("2019", "06"), month.Bucket(ts(2019, time.June, 7)))
	require.Equal(t, "2019", year.Bucket(ts(2019, time.June, 7)))
}

func TestAssetName(t *testing.T) {
	tests := []struct {
		url, want string
	}{
		{"http://asset.soup.io/asset/1234/5678_abcd.jpeg", "5678_abcd.jpeg"},
		{"HTTP://Asset.Soup.IO:80/a/b.png#frag", "b.png"},
		{"http://asset.soup.io/a/we%20ird.gif", "we_ird.gif"},
		{"http://kitten.soup.io/", "image_" + Digest("http://kitten.soup.io/")},
		{"http://asset.soup.io/asset/9/102.json", "asset_102.json"},
		{"http://asset.soup.io/asset/9/Page.HTML", "asset_Page.HTML"},
		{"http://asset.soup.io/asset/9/102.json.gz", "102.json.gz"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, AssetName("image", tt.url), tt.url)
	}
	require.Equal(t, AssetName("file", "http://x/y/z.pdf"), AssetName("file", "http://x/y/z.pdf"))
}

func TestRecordKey(t *testing.T) {
	require.Equal(t, "102", RecordKey(model.Post{ID: "102"}))
	require.Equal(t, "post_asset_102", RecordKey(model.Post{ID: "asset_102"}))
	require.Equal(t, "regular_"+Digest("<p/>"), RecordKey(model.Post{Kind: model.KindRegular, Raw: "<p/>"}))
}

func TestPersistFeedInfo_WrittenOnce(t *testing.T) {
	root := t.TempDir()
	s := New(root, Options{})
	require.Equal(t, Written, s.PersistFeedInfo(map[string]string{"title": "a"}).Status)
	require.Equal(t, Skipped, s.PersistFeedInfo(map[string]string{"title": "b"}).Status)
	b, err := os.ReadFile(filepath.Join(root, "feed.json"))
	require.NoError(t, err)
	require.Contains(t, string(b), `"a"`)
}
