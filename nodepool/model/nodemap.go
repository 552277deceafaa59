package model

// NodeMap 是按首次插入顺序保存的 host -> uuid 映射。
// 同一 host 只记录第一次出现的 uuid，之后的重复项被丢弃。
// 它只在单次更新流程内使用，不是并发安全的。
type NodeMap struct {
	index map[string]string
	order []string
}

// NewNodeMap 创建一个空的 NodeMap。
func NewNodeMap() *NodeMap {
	return &NodeMap{index: make(map[string]string)}
}

// Add 在 host 尚未出现时记录该条目，并返回 true；否则保持原值并返回 false。
func (m *NodeMap) Add(e NodeEntry) bool {
	if _, exists := m.index[e.Host]; exists {
		return false
	}
	m.index[e.Host] = e.UUID
	m.order = append(m.order, e.Host)
	return true
}

// Get 返回 host 对应的 uuid。
func (m *NodeMap) Get(host string) (string, bool) {
	uuid, ok := m.index[host]
	return uuid, ok
}

func (m *NodeMap) Len() int {
	return len(m.order)
}

// Entries 按首次出现顺序返回全部条目。
func (m *NodeMap) Entries() []NodeEntry {
	entries := make([]NodeEntry, 0, len(m.order))
	for _, host := range m.order {
		entries = append(entries, NodeEntry{Host: host, UUID: m.index[host]})
	}
	return entries
}
