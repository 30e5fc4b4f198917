package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"patchsync/internal/keypath"
	"patchsync/pkg/contract"
)

// DecodeDocument 净化并解析源文本；任何失败都包装为 contract.ErrSanitize（源文档不可用）。
func DecodeDocument(raw []byte, san contract.Sanitizer) (*keypath.Node, error) {
	clean, err := san.Sanitize(raw)
	if err != nil {
		return nil, err
	}
	root, err := keypath.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrSanitize, err)
	}
	return root, nil
}

// LoadDocument 从源根目录读取并解析单个文档。
func LoadDocument(dir string, id contract.FileID, san contract.Sanitizer) (*keypath.Node, error) {
	b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(string(id))))
	if err != nil {
		return nil, err
	}
	return DecodeDocument(b, san)
}

// docCache: 每次运行内每个源文档只读取、解析一次（并发安全）。
type docCache struct {
	dir string
	san contract.Sanitizer

	mu sync.Mutex
	m  map[contract.FileID]*docEntry

	loads atomic.Int64
}

type docEntry struct {
	once sync.Once
	root *keypath.Node
	err  error
}

func newDocCache(dir string, san contract.Sanitizer) *docCache {
	return &docCache{dir: dir, san: san, m: map[contract.FileID]*docEntry{}}
}

func (c *docCache) get(id contract.FileID) (*keypath.Node, error) {
	c.mu.Lock()
	e := c.m[id]
	if e == nil {
		e = &docEntry{}
		c.m[id] = e
	}
	c.mu.Unlock()
	e.once.Do(func() {
		c.loads.Add(1)
		e.root, e.err = LoadDocument(c.dir, id, c.san)
	})
	return e.root, e.err
}
