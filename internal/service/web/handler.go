package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"gopkg.in/yaml.v3"

	"nodesync/internal/shared/logger"
	"nodesync/nodepool/model"
	"nodesync/nodepool/storage"
	"nodesync/nodepool/updater"
)

const (
	triggerAcceptedMsg = "Update process triggered successfully in the background. Check logs for details."
	triggerUsageMsg    = "This is an updater service. To trigger an update manually, add '?run=true' to the URL."
)

// UpdateController defines what the web handler needs from the updater.
// This decouples the web package from how runs are scheduled.
type UpdateController interface {
	Trigger(trigger string) string
	LastResult() (updater.Result, bool)
}

type Handler struct {
	controller UpdateController
	store      storage.Store
	listKey    string
	indexKey   string
}

func NewHandler(controller UpdateController, store storage.Store, listKey, indexKey string) *Handler {
	return &Handler{
		controller: controller,
		store:      store,
		listKey:    listKey,
		indexKey:   indexKey,
	}
}

// HandleTrigger 处理手动触发：?run=true 时在后台启动一次更新并立即返回 200，
// 其它请求返回 403 与用法说明。
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if r.URL.Query().Get("run") != "true" {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(triggerUsageMsg))
		return
	}

	runID := h.controller.Trigger(updater.TriggerManual)
	log := logger.WithComponent("Web")
	log.Info().Str("run_id", runID).Str("remote_addr", r.RemoteAddr).Msg("Manual trigger received.")
	w.Header().Set("X-Run-Id", runID)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(triggerAcceptedMsg))
}

type nodesResponse struct {
	Index string            `json:"index" yaml:"index"`
	Nodes []model.NodeEntry `json:"nodes" yaml:"nodes"`
}

// HandleNodes 处理 GET /api/nodes，返回当前存储的节点列表与轮询索引。
// ?format=yaml 时以 YAML 输出。
func (h *Handler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := h.store.Get(r.Context(), h.listKey)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Node list has not been written yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to read node list: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := nodesResponse{}
	if err := json.Unmarshal([]byte(raw), &resp.Nodes); err != nil {
		http.Error(w, "Stored node list is not valid JSON", http.StatusInternalServerError)
		return
	}
	if idx, err := h.store.Get(r.Context(), h.indexKey); err == nil {
		resp.Index = idx
	}

	if r.URL.Query().Get("format") == "yaml" {
		out, err := yaml.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(out)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleStatus 处理 GET /api/status，返回最近一次运行的结果。
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{"last_run": nil}
	if last, ok := h.controller.LastResult(); ok {
		response["last_run"] = last
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
