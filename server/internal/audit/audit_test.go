package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/db"
	"github.com/onsembl/onsembl/shared/types"
)

func newTestFunnel(t *testing.T, opts ...Option) *Funnel {
	t.Helper()
	gdb, err := db.New(db.Config{
		Driver: "sqlite",
		DSN:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	return New(gdb, zap.NewNop(), 16, opts...)
}

func TestRecordThenListRedactsAndPersists(t *testing.T) {
	f := newTestFunnel(t)
	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	err := f.Record(ctx, Event{
		Kind:      types.AuditUserLogin,
		Details:   map[string]interface{}{"password": "p", "token": "t"},
		SourceIP:  "127.0.0.1",
		UserAgent: "test",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Run drains asynchronously; poll briefly for the write to land.
	var rows []db.AuditEntry
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rows, err = f.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(rows) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	f.Wait()

	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	var details map[string]interface{}
	if err := json.Unmarshal([]byte(rows[0].Details), &details); err != nil {
		t.Fatalf("unmarshal details: %v", err)
	}
	if _, ok := details["token"]; ok {
		t.Fatal("persisted details retained the dropped token key")
	}
	if details["password"] != "[REDACTED]" {
		t.Fatalf("persisted password = %v, want [REDACTED]", details["password"])
	}
}

func TestRecordIsIdempotentOnID(t *testing.T) {
	f := newTestFunnel(t)
	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	id := uuid.Must(uuid.NewV7())
	for i := 0; i < 2; i++ {
		if err := f.Record(ctx, Event{ID: id, Kind: types.AuditAgentConnect}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	var rows []db.AuditEntry
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		var err error
		rows, err = f.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(rows) > 0 {
			time.Sleep(20 * time.Millisecond) // give the second Record a chance to land if it were going to duplicate
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	f.Wait()

	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1 (idempotent on id)", len(rows))
	}
}

func TestListExcludesEntriesOlderThanRetention(t *testing.T) {
	f := newTestFunnel(t, WithRetention(time.Hour))
	ctx := context.Background()

	old := db.AuditEntry{Kind: string(types.AuditUserLogin), Details: "{}"}
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	if err := f.db.Create(&old).Error; err != nil {
		t.Fatalf("seed old row: %v", err)
	}

	rows, err := f.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("len(rows) = %d, want 0 (entry is past retention)", len(rows))
	}
}
