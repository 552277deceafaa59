package storage

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"nodesync/internal/shared/logger"
)

const (
	delimiter = "|"
	numFields = 2 // Key|Base64(Value)
)

// FileStore 实现了 Store 接口，使用纯文本文件进行持久化。
// 每行一个键，值以 base64 编码以容纳换行（列表键是多行 JSON）。
type FileStore struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStore 创建一个新的 FileStore 实例。
func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
	}
}

func (fs *FileStore) Get(_ context.Context, key string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := fs.load()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Put 读取整个文件，更新一个键后整体写回。
func (fs *FileStore) Put(_ context.Context, key, value string) error {
	if strings.Contains(key, delimiter) || strings.ContainsAny(key, "\r\n") {
		return fmt.Errorf("invalid key %q", key)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := fs.load()
	if err != nil {
		return err
	}
	data[key] = value
	return fs.save(data)
}

func (fs *FileStore) Close() error { return nil }

// load 从纯文本文件加载全部键值。
func (fs *FileStore) load() (map[string]string, error) {
	l := logger.WithComponent("NodePool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	data := make(map[string]string)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, delimiter, numFields)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Str("path", fs.filePath).Msg("Skipping malformed line in store file.")
			continue
		}
		value, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to decode value, skipping.")
			continue
		}
		data[fields[0]] = string(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

// save 将全部键值按键排序后写回文件。
func (fs *FileStore) save(data map[string]string) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(delimiter)
		sb.WriteString(base64.StdEncoding.EncodeToString([]byte(data[k])))
		sb.WriteString("\n")
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(fs.filePath, []byte(sb.String()), 0644)
}
