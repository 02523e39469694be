package dashboard

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

// StageData contains a stage transition of a run
type StageData struct {
	Operation string       `json:"operation"`
	Stage     schema.Stage `json:"stage"`
}

// SyncFailedData contains the failure of a run
type SyncFailedData struct {
	Operation string       `json:"operation"`
	Stage     schema.Stage `json:"stage"`
	Error     string       `json:"error"`
}

// Handler turns sync events into dashboard messages.
// It bridges between the syncer's Observer hook and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats schema.Stats
	runs  int
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// Observer returns the hook to pass in sync.Options.Observer.
func (h *Handler) Observer() jirasync.Observer {
	return h.OnEvent
}

// OnEvent handles one sync event
func (h *Handler) OnEvent(e jirasync.Event) {
	switch {
	case e.Err != nil:
		h.onFailed(e)
	case e.Result != nil:
		h.onComplete(e)
	default:
		h.send(MessageTypeStage, e.At, StageData{Operation: e.Operation, Stage: e.Stage})
	}
}

func (h *Handler) onFailed(e jirasync.Event) {
	h.logger.Printf("Sync %s failed: %v", e.Operation, e.Err)

	h.send(MessageTypeSyncFailed, e.At, SyncFailedData{
		Operation: e.Operation,
		Stage:     failedStage(e.Err),
		Error:     e.Err.Error(),
	})
}

func (h *Handler) onComplete(e jirasync.Event) {
	res := e.Result
	h.logger.Printf("Sync complete: %d users, %d issues in %v", res.UsersProcessed, res.IssuesProcessed, res.Duration)

	h.mu.Lock()
	h.runs++
	h.stats.Users += res.UsersCreated
	h.stats.Issues += res.IssuesCreated
	h.stats.IssueHistory += res.HistoryRecorded
	h.stats.UserActivities += res.ActivitiesDerived
	h.mu.Unlock()

	h.send(MessageTypeSyncComplete, e.At, res)
	h.broadcastStats()
}

// failedStage returns the stage carried by a *schema.StageError.
func failedStage(err error) schema.Stage {
	var se *schema.StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return schema.StageFailed
}

func (h *Handler) send(typ MessageType, at time.Time, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: at,
		Data:      dataJSON,
	})
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.send(MessageTypeStats, time.Now(), h.GetStats())
}

// UpdateStats replaces the statistics with a fresh count from the store.
// The counters of later runs are added on top of it.
func (h *Handler) UpdateStats(stats schema.Stats) {
	h.mu.Lock()
	h.stats = stats
	h.mu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() schema.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Runs returns how many runs completed since the handler was created
func (h *Handler) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}
