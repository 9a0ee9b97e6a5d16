package node

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/outbox"
)

// Admin endpoint paths.
const (
	PathMetrics   = "/metrics"
	PathStatus    = "/status"
	PathTasks     = "/tasks"
	PathTaskRetry = "/tasks/retry"
)

// Status is the body served at PathStatus.
type Status struct {
	Relay       string        `json:"relay"`
	ListenAddr  string        `json:"listen_addr"`
	Version     string        `json:"version"`
	Running     bool          `json:"running"`
	Tasks       int           `json:"tasks"`
	FailedTasks []outbox.Info `json:"failed_tasks"`
}

// Status reports the relay identity and its outbox.
func (n *Node) Status() Status {
	failed := n.outbox.Failed()
	if failed == nil {
		failed = []outbox.Info{}
	}
	return Status{
		Relay:       n.cfg.Relay.Name,
		ListenAddr:  n.cfg.Relay.ListenAddr(),
		Version:     n.version,
		Running:     n.IsRunning(),
		Tasks:       len(n.outbox.Tasks()),
		FailedTasks: failed,
	}
}

// AdminHandler serves metrics, the relay status, the outbox task list and
// manual retry of failed tasks.
func (n *Node) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, n.metrics.HTTPHandler())
	mux.HandleFunc(PathStatus, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.Status())
	})
	mux.HandleFunc(PathTasks, func(w http.ResponseWriter, r *http.Request) {
		tasks := n.outbox.Tasks()
		if tasks == nil {
			tasks = []outbox.Info{}
		}
		writeJSON(w, http.StatusOK, tasks)
	})
	mux.HandleFunc(PathTaskRetry, n.handleRetry)
	return mux
}

// handleRetry restarts the failed task named by the key and kind query
// parameters.
func (n *Node) handleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}
	key, kind := r.URL.Query().Get("key"), r.URL.Query().Get("kind")
	if key == "" || kind == "" {
		writeError(w, http.StatusBadRequest, errors.New("key and kind are required"))
		return
	}

	task, err := n.outbox.Retry(key, kind)
	switch {
	case errors.Is(err, outbox.ErrNoTask):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusConflict, err)
		return
	}
	n.logger.Info("task retried", logging.RequestID(key), "kind", kind)
	writeJSON(w, http.StatusAccepted, task.Info())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
