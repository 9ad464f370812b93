// Package audit implements component E's append-only trail: a
// single-producer-style funnel (one buffered channel drained by one
// goroutine, per §5) that redacts and persists structured events, plus
// query-time-filtered reads that enforce the retention window.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/onsembl/onsembl/server/internal/db"
	"github.com/onsembl/onsembl/shared/types"
)

// DefaultRetention is the default audit retention window (§4.E, §6).
const DefaultRetention = 30 * 24 * time.Hour

// DefaultQueryLimit bounds unqualified List calls.
const DefaultQueryLimit = 100

// Event is one structured occurrence submitted to the funnel. ID is assigned
// by the caller so that writes are idempotent on (id) across redelivery.
type Event struct {
	ID        uuid.UUID
	Kind      types.AuditEventKind
	UserID    *uuid.UUID
	AgentID   *uuid.UUID
	CommandID *uuid.UUID
	Details   map[string]interface{}
	SourceIP  string
	UserAgent string
}

// Filter constrains a List query. Zero values are unconstrained, except
// Limit which defaults to DefaultQueryLimit.
type Filter struct {
	Kind    types.AuditEventKind
	UserID  *uuid.UUID
	AgentID *uuid.UUID
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Funnel owns the append-only write path: Record enqueues, a single
// goroutine started by Run drains and persists, preserving total order of
// recorded events regardless of how many goroutines call Record.
type Funnel struct {
	db        *gorm.DB
	logger    *zap.Logger
	retention time.Duration
	events    chan Event
	onWrite   func()
	done      chan struct{}
}

// Option configures a Funnel at construction.
type Option func(*Funnel)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(f *Funnel) { f.retention = d }
}

// WithOnWrite registers a callback invoked after every successful append,
// used by server/internal/metrics to drive the audit-writes counter.
func WithOnWrite(fn func()) Option {
	return func(f *Funnel) { f.onWrite = fn }
}

// New constructs a Funnel with a buffered channel of the given capacity.
// Run must be called once to start draining it.
func New(gdb *gorm.DB, logger *zap.Logger, bufferSize int, opts ...Option) *Funnel {
	f := &Funnel{
		db:        gdb,
		logger:    logger,
		retention: DefaultRetention,
		events:    make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run drains the funnel until ctx is cancelled, then flushes any
// already-enqueued events before returning (per §5's shutdown-flushes-the-
// audit-funnel-before-exit rule).
func (f *Funnel) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case ev := <-f.events:
			f.write(ev)
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

func (f *Funnel) drain() {
	for {
		select {
		case ev := <-f.events:
			f.write(ev)
		default:
			return
		}
	}
}

// Wait blocks until Run has finished flushing and returned.
func (f *Funnel) Wait() { <-f.done }

func (f *Funnel) write(ev Event) {
	redacted := Redact(ev.Details)
	encoded, err := json.Marshal(redacted)
	if err != nil {
		f.logger.Error("audit: encode details", zap.Error(err))
		encoded = []byte("{}")
	}

	row := db.AuditEntry{
		Kind:      string(ev.Kind),
		UserID:    ev.UserID,
		AgentID:   ev.AgentID,
		CommandID: ev.CommandID,
		Details:   string(encoded),
		SourceIP:  ev.SourceIP,
		UserAgent: ev.UserAgent,
	}
	row.ID = ev.ID

	// Writes are idempotent on (id): a redelivered event with the same id is
	// silently ignored rather than duplicated or erroring.
	err = f.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		f.logger.Error("audit: write entry", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	if f.onWrite != nil {
		f.onWrite()
	}
}

// Record enqueues ev for persistence, blocking until the buffer accepts it
// or ctx is cancelled. The caller is expected to assign ev.ID themselves
// (e.g. the command or connection id already in scope) so that retries are
// naturally idempotent.
func (f *Funnel) Record(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("audit: generate id: %w", err)
		}
		ev.ID = id
	}
	select {
	case f.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns audit entries matching filter, newest first, excluding any
// entry older than the retention window regardless of filter.Since —
// retention is query-time filtering and authoritative (§9 design note).
func (f *Funnel) List(ctx context.Context, filter Filter) ([]db.AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	cutoff := time.Now().Add(-f.retention)
	since := filter.Since
	if since.Before(cutoff) {
		since = cutoff
	}

	q := f.db.WithContext(ctx).Model(&db.AuditEntry{}).Where("created_at >= ?", since)
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.AgentID != nil {
		q = q.Where("agent_id = ?", *filter.AgentID)
	}

	var rows []db.AuditEntry
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return rows, nil
}
