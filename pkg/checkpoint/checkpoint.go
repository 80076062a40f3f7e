package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wxharvest/pkg/logger"
)

// currentVersion is bumped when SyncState changes incompatibly
const currentVersion = 1

// SyncState is the incremental sync cursor of one account
type SyncState struct {
	AccountID         string    `json:"account_id"`
	FakeID            string    `json:"fake_id"`
	LastPage          int       `json:"last_page"`
	NewestPublishTime int64     `json:"newest_publish_time"`
	TotalRecords      int       `json:"total_records"`
	LastChanged       int       `json:"last_changed"`
	LastError         string    `json:"last_error,omitempty"`
	LastSyncAt        time.Time `json:"last_sync_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           int       `json:"version"`
}

// Since returns the cut-off for the next incremental harvest, or nil when
// the account has never completed a sync.
func (s *SyncState) Since() *int64 {
	if s == nil || s.NewestPublishTime <= 0 {
		return nil
	}
	ts := s.NewestPublishTime
	return &ts
}

// Manager handles the checkpoint file of one account
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

var fileNameReplacer = strings.NewReplacer("/", "_", "+", "-", "=", "", "\\", "_", ":", "_")

// NewManager creates a checkpoint manager for accountID under dir
func NewManager(dir, accountID string) (*Manager, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(dir, fileNameReplacer.Replace(accountID)+".checkpoint.json"),
		logger:         logger.GetLogger().WithField("account_id", accountID),
	}, nil
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create creates and saves a fresh state
func (m *Manager) Create(accountID, fakeID string) (*SyncState, error) {
	now := time.Now()
	state := &SyncState{
		AccountID: accountID,
		FakeID:    fakeID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   currentVersion,
	}

	if err := m.Save(state); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint created", map[string]interface{}{"path": m.checkpointPath})
	return state, nil
}

// Load loads the state. It returns nil, nil when no checkpoint exists.
func (m *Manager) Load() (*SyncState, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var state SyncState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if state.Version > currentVersion {
		return nil, fmt.Errorf("checkpoint version %d is newer than supported %d", state.Version, currentVersion)
	}

	m.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"newest_publish_time": state.NewestPublishTime,
		"total_records":       state.TotalRecords,
		"last_sync_at":        state.LastSyncAt,
	})
	return &state, nil
}

// LoadOrCreate loads the state, creating it on first use
func (m *Manager) LoadOrCreate(accountID, fakeID string) (*SyncState, error) {
	state, err := m.Load()
	if err != nil || state != nil {
		return state, err
	}
	return m.Create(accountID, fakeID)
}

// Save writes the state atomically
func (m *Manager) Save(state *SyncState) error {
	state.UpdatedAt = time.Now()
	if state.Version == 0 {
		state.Version = currentVersion
	}

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// RecordSuccess folds a finished harvest into the state. newest is the
// latest publish time seen in this run; an older value never moves the
// cursor back.
func (m *Manager) RecordSuccess(state *SyncState, lastPage, records, changed int, newest int64) error {
	state.LastPage = lastPage
	state.TotalRecords += records
	state.LastChanged = changed
	state.LastError = ""
	state.LastSyncAt = time.Now()
	if newest > state.NewestPublishTime {
		state.NewestPublishTime = newest
	}
	return m.Save(state)
}

// RecordFailure keeps the cursor and notes the failure
func (m *Manager) RecordFailure(state *SyncState, page int, cause error) error {
	state.LastPage = page
	if cause != nil {
		state.LastError = cause.Error()
	}
	return m.Save(state)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}
