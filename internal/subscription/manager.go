// Package subscription provides the job-scoped subscription manager that sits
// between the WebSocket transport and UI callbacks. It filters out frames
// that do not belong to the currently tracked job and normalizes the three
// accepted wire shapes into one update type, which is what prevents stale
// frames from a superseded job from leaking into fresh UI state.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/trackpulse/trackpulse/pkg/models"
)

// Callback receives normalized status updates.
type Callback func(models.JobStatusUpdate)

// Manager dispatches job-scoped status updates. Replacing the current job id
// implicitly invalidates every subsequent frame that references the previous
// one. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	jobID     string
	active    bool
	callbacks map[int]Callback
	nextID    int
}

// NewManager creates an inactive Manager with no current job.
func NewManager() *Manager {
	return &Manager{callbacks: make(map[int]Callback)}
}

// SetCurrentJob replaces the tracked job id. An empty id deactivates the
// manager entirely.
func (m *Manager) SetCurrentJob(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobID = jobID
	m.active = jobID != ""
}

// CurrentJob returns the tracked job id and whether the manager is active.
func (m *Manager) CurrentJob() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID, m.active
}

// Subscribe registers a callback and returns its unsubscribe function. Each
// callback is invoked at most once per normalized update.
func (m *Manager) Subscribe(cb Callback) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.callbacks[id] = cb

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks, id)
	}
}

// Reset clears the tracked job and every subscription.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobID = ""
	m.active = false
	m.callbacks = make(map[int]Callback)
}

// ProcessMessage filters and dispatches one raw frame. It returns true only
// when the frame was recognized and belongs to the current job; foreign-job
// and unrecognized frames are silently dropped. It never panics — callback
// failures are contained and logged.
func (m *Manager) ProcessMessage(raw []byte) bool {
	jobID, active := m.CurrentJob()
	if !active {
		return false
	}

	msg := Decode(raw)
	switch msg.Kind {
	case KindBatchQueued:
		if msg.JobID != jobID {
			return false
		}
		for _, itemID := range msg.ItemIDs {
			id := itemID
			m.dispatch(models.JobStatusUpdate{ItemID: &id, Status: msg.Status})
		}
		return true

	case KindDirectStatus, KindJobStatus:
		if msg.JobID != jobID {
			return false
		}
		if msg.ItemID == nil {
			// Whole-job event (e.g. playlist analysis): accepted, but not
			// broadcast to per-item callbacks.
			return true
		}
		m.dispatch(models.JobStatusUpdate{ItemID: msg.ItemID, Status: msg.Status})
		return true

	default:
		return false
	}
}

func (m *Manager) dispatch(update models.JobStatusUpdate) {
	m.mu.Lock()
	snapshot := make([]Callback, 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		snapshot = append(snapshot, cb)
	}
	m.mu.Unlock()

	for _, cb := range snapshot {
		invoke(cb, update)
	}
}

func invoke(cb Callback, update models.JobStatusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscription callback panicked", "panic", r)
		}
	}()
	cb(update)
}
