package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// writeAtomic 在目标目录内创建临时文件，写入、刷盘后改名到 path。
// 任何一步失败都会删除临时文件，目标路径要么不存在，要么是完整内容。
func writeAtomic(path string, fill func(io.Writer) (int64, error)) (int64, error) {
	dir, name := filepath.Split(path)
	f, err := os.CreateTemp(dir, "."+name+".tmp*")
	if err != nil {
		return 0, fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmp := f.Name()

	n, err := fill(f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", name, err)
	}
	return n, nil
}

// pathLocks 为按路径的互斥锁：同一目标不会被并发写入。
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *pathLocks) lock(path string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*lockEntry)
	}
	e := l.m[path]
	if e == nil {
		e = &lockEntry{}
		l.m[path] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		if e.refs--; e.refs == 0 {
			delete(l.m, path)
		}
		l.mu.Unlock()
	}
}
