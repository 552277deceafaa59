package updater

import (
	"context"
	"encoding/json"
	"fmt"

	"nodesync/nodepool/model"
	"nodesync/nodepool/storage"
)

// ResetIndex 是每次更新后写入轮询索引键的值。
const ResetIndex = "0"

// MarshalNodeList 将节点列表序列化为两空格缩进的 JSON 数组。
func MarshalNodeList(entries []model.NodeEntry) (string, error) {
	if entries == nil {
		entries = []model.NodeEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Persist 先写列表键，再把索引键重置为 "0"。
// 两次写入不是原子的：若在两者之间中断，索引会短暂落后于列表。
// nodes 为空时不写入任何键，并返回 false。
func Persist(ctx context.Context, store storage.Store, nodes *model.NodeMap, listKey, indexKey string) (bool, error) {
	if nodes.Len() == 0 {
		return false, nil
	}

	list, err := MarshalNodeList(nodes.Entries())
	if err != nil {
		return false, fmt.Errorf("marshal node list: %w", err)
	}
	if err := store.Put(ctx, listKey, list); err != nil {
		return false, fmt.Errorf("write %s: %w", listKey, err)
	}
	if err := store.Put(ctx, indexKey, ResetIndex); err != nil {
		return true, fmt.Errorf("write %s: %w", indexKey, err)
	}
	return true, nil
}
