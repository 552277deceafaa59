package model

// UUIDLength 是 vless 链接中用户 ID 的固定长度。
const UUIDLength = 36

// NodeEntry 是一条去重后的节点记录，也是写入 KV 列表键的 JSON 元素。
// 创建后不再修改。
type NodeEntry struct {
	Host string `json:"host"` // 链接中的 sni 参数，同时作为去重键
	UUID string `json:"uuid"` // vless:// 之后的 36 个字符
}

// Valid 报告条目是否满足持久化的最低要求。
func (e NodeEntry) Valid() bool {
	return e.Host != "" && len([]rune(e.UUID)) == UUIDLength
}
