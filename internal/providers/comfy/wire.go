package comfy

import "encoding/json"

// Wire types for the ComfyUI HTTP API. Field names and shapes follow the
// server's JSON exactly; do not rename without checking the live API.

// PromptRequest is sent to POST /prompt.
type PromptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// PromptResponse is returned from POST /prompt.
type PromptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
	Error      *PromptError               `json:"error,omitempty"`
}

// PromptError describes why the server rejected a workflow outright.
type PromptError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details"`
}

// HistoryResponse is returned from GET /history/{prompt_id}, keyed by prompt id.
type HistoryResponse map[string]HistoryEntry

// HistoryEntry contains execution history for a single prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  ExecutionStatus       `json:"status"`
}

// NodeOutput contains output artifacts from a node. Image nodes report under
// images, video nodes under gifs.
type NodeOutput struct {
	Images []FileOutput `json:"images,omitempty"`
	Gifs   []FileOutput `json:"gifs,omitempty"`
}

// FileOutput locates one produced file on the server.
type FileOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// ExecutionStatus indicates the status of an execution. Messages carries
// [name, payload] tuples; execution_error entries explain failures.
type ExecutionStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// QueueResponse is returned from GET /queue.
type QueueResponse struct {
	Running []QueueEntry `json:"queue_running"`
	Pending []QueueEntry `json:"queue_pending"`
}

// QueueEntry is a positional tuple [number, prompt_id, prompt, extra, outputs].
type QueueEntry []json.RawMessage

// PromptID extracts the prompt id from the tuple, or "" when absent.
func (e QueueEntry) PromptID() string {
	if len(e) < 2 {
		return ""
	}
	var id string
	if err := json.Unmarshal(e[1], &id); err != nil {
		return ""
	}
	return id
}

// Contains reports whether any entry carries the given prompt id.
func queueContains(entries []QueueEntry, promptID string) bool {
	for _, e := range entries {
		if e.PromptID() == promptID {
			return true
		}
	}
	return false
}

// Has reports whether the queue references the prompt id in either lane.
func (q QueueResponse) Has(promptID string) bool {
	return queueContains(q.Running, promptID) || queueContains(q.Pending, promptID)
}

// clearQueueRequest is sent to POST /queue to drop all pending work.
type clearQueueRequest struct {
	Clear bool `json:"clear"`
}

// freeRequest is sent to POST /free to unload models and release VRAM.
type freeRequest struct {
	UnloadModels bool `json:"unload_models"`
	FreeMemory   bool `json:"free_memory"`
}

// UploadResponse is returned from POST /upload/image.
type UploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// SystemStats is returned from GET /system_stats.
type SystemStats struct {
	System struct {
		OS            string `json:"os"`
		ComfyVersion  string `json:"comfyui_version"`
		PythonVersion string `json:"python_version"`
	} `json:"system"`
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo describes one compute device and its memory headroom.
type DeviceInfo struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
	TorchVRAMFree  int64  `json:"torch_vram_free"`
}
