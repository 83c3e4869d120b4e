package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/John-Robertt/camtag/internal/infra/fsx"
)

// Store 是 Config Store 的读写契约。
//
// Get 只返回存在的 key（缺失的 key 不出现在结果里）；Set 批量写入。
type Store interface {
	Get(keys ...string) (map[string]string, error)
	Set(values map[string]string) error
}

var ErrReadOnly = errors.New("kvstore: read-only")

// FileStore 把整个 key/value 集合保存为单个 JSON 对象文件。
//
// 约束：
// - 每次 Set 都整体重写（临时文件 + rename），不会出现半写状态
// - ReadOnly=true 时拒绝写（CLI 的只读命令使用）
// - 同一进程内并发安全；跨进程不加锁（同一时刻只有一个设置编辑方）
type FileStore struct {
	Path     string
	ReadOnly bool

	mu sync.Mutex
}

func New(path string, readOnly bool) *FileStore {
	return &FileStore{
		Path:     filepath.Clean(strings.TrimSpace(path)),
		ReadOnly: readOnly,
	}
}

func (s *FileStore) Get(keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *FileStore) Set(values map[string]string) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	for k := range values {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("key 不能为空")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		all[k] = v
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicPrivate(filepath.Dir(s.Path), filepath.Base(s.Path), b)
}

// Keys 返回所有 key（按字典序），用于 `settings get` 不带参数时的全量输出。
func (s *FileStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) load() (map[string]string, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("解析 %q 失败：%w", s.Path, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// Memory 是内存实现，供测试与 dry-run 使用。
type Memory struct {
	mu   sync.Mutex
	data map[string]string

	// SetErr 非空时 Set 直接返回该错误（模拟存储不可写）。
	SetErr error
}

func NewMemory(initial map[string]string) *Memory {
	m := &Memory{data: map[string]string{}}
	for k, v := range initial {
		m.data[k] = v
	}
	return m
}

func (m *Memory) Get(keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}
