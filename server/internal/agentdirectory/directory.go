// Package agentdirectory persists the one agent-facing table §6 requires to
// survive restarts: stable id, human name, declared kind/capabilities, and
// enough host metadata to diagnose a flapping wrapper. It is grounded on the
// teacher's repositories.AgentRepository (server/internal/repositories/
// agent.go), generalized from a soft-deleted backup-agent record to a plain,
// hard-deletable directory entry — onsembl has no concept of deleting an
// agent's backup history, only of an agent going offline.
package agentdirectory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onsembl/onsembl/server/internal/db"
	"github.com/onsembl/onsembl/shared/types"
)

// Record is the directory's view of one agent, with Capabilities decoded
// from the JSON column into the shared wire type.
type Record struct {
	ID           uuid.UUID
	Name         string
	Kind         types.AgentKind
	Capabilities types.AgentCapabilities
	Status       types.AgentStatus
	Hostname     string
	Version      string
	PID          int
	LastSeenAt   *time.Time
	RestartCount int
	CreatedAt    time.Time
}

// Directory is a GORM-backed store for agent directory records.
type Directory struct {
	db *gorm.DB
}

// New returns a Directory backed by the provided *gorm.DB.
func New(gdb *gorm.DB) *Directory {
	return &Directory{db: gdb}
}

func toRecord(m *db.Agent) (*Record, error) {
	var caps types.AgentCapabilities
	if m.Capabilities != "" {
		if err := json.Unmarshal([]byte(m.Capabilities), &caps); err != nil {
			return nil, fmt.Errorf("agentdirectory: decode capabilities: %w", err)
		}
	}
	return &Record{
		ID:           m.ID,
		Name:         m.Name,
		Kind:         types.AgentKind(m.Kind),
		Capabilities: caps,
		Status:       types.AgentStatus(m.Status),
		Hostname:     m.Hostname,
		Version:      m.Version,
		PID:          m.PID,
		LastSeenAt:   m.LastSeenAt,
		RestartCount: m.RestartCount,
		CreatedAt:    m.CreatedAt,
	}, nil
}

// Upsert creates the agent record if id is unseen, or updates its mutable
// fields (name, kind, capabilities, host metadata) if it already exists.
// Called from the agent WebSocket handler (api.WSHandler.ServeAgent) during
// the agent:connect handshake.
func (d *Directory) Upsert(ctx context.Context, id uuid.UUID, name string, kind types.AgentKind, caps types.AgentCapabilities, hostname, version string, pid int) (*Record, error) {
	encoded, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("agentdirectory: encode capabilities: %w", err)
	}

	now := time.Now()
	var m db.Agent
	err = d.db.WithContext(ctx).First(&m, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = db.Agent{
			Name:         name,
			Kind:         string(kind),
			Capabilities: string(encoded),
			Status:       string(types.AgentStatusConnecting),
			Hostname:     hostname,
			Version:      version,
			PID:          pid,
			LastSeenAt:   &now,
		}
		m.ID = id
		if err := d.db.WithContext(ctx).Create(&m).Error; err != nil {
			return nil, fmt.Errorf("agentdirectory: create: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("agentdirectory: lookup: %w", err)
	default:
		m.Name = name
		m.Kind = string(kind)
		m.Capabilities = string(encoded)
		m.Hostname = hostname
		m.Version = version
		m.PID = pid
		m.LastSeenAt = &now
		if err := d.db.WithContext(ctx).Save(&m).Error; err != nil {
			return nil, fmt.Errorf("agentdirectory: update: %w", err)
		}
	}

	return toRecord(&m)
}

// GetByID retrieves one agent record, returning ErrNotFound if absent.
func (d *Directory) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	var m db.Agent
	if err := d.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agentdirectory: get by id: %w", err)
	}
	return toRecord(&m)
}

// UpdateStatus updates only the status and last-seen columns, called on
// every status transition and heartbeat to avoid write amplification on the
// full row.
func (d *Directory) UpdateStatus(ctx context.Context, id uuid.UUID, status types.AgentStatus, seenAt time.Time) error {
	result := d.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       string(status),
			"last_seen_at": seenAt,
		})
	if result.Error != nil {
		return fmt.Errorf("agentdirectory: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRestartCount bumps the restart counter by one. No code path in
// this repository calls it.
func (d *Directory) IncrementRestartCount(ctx context.Context, id uuid.UUID) error {
	result := d.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("id = ?", id).
		UpdateColumn("restart_count", gorm.Expr("restart_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("agentdirectory: increment restart count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every known agent, most recently created first.
func (d *Directory) List(ctx context.Context) ([]Record, error) {
	var rows []db.Agent
	if err := d.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("agentdirectory: list: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := toRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// MarkOffline transitions every agent whose last-seen timestamp is older
// than cutoff to offline. Used by the heartbeat-timeout sweep (component E)
// to reconcile the directory after a crash where no clean disconnect event
// ever arrived.
func (d *Directory) MarkOffline(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var stale []db.Agent
	if err := d.db.WithContext(ctx).
		Where("status != ? AND (last_seen_at IS NULL OR last_seen_at < ?)", string(types.AgentStatusOffline), cutoff).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("agentdirectory: find stale: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(stale))
	for _, m := range stale {
		ids = append(ids, m.ID)
	}
	if err := d.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("id IN ?", ids).
		Update("status", string(types.AgentStatusOffline)).Error; err != nil {
		return nil, fmt.Errorf("agentdirectory: mark offline: %w", err)
	}
	return ids, nil
}
