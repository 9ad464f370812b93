package agentdirectory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/db"
	"github.com/onsembl/onsembl/shared/types"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	gdb, err := db.New(db.Config{
		Driver: "sqlite",
		DSN:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	return New(gdb)
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV7())
	caps := types.AgentCapabilities{MaxTokens: 4096, SupportsInterrupt: true}

	rec, err := d.Upsert(ctx, id, "agent-one", types.AgentKindClaude, caps, "host-a", "1.0.0", 123)
	if err != nil {
		t.Fatalf("Upsert create: %v", err)
	}
	if rec.Status != types.AgentStatusConnecting {
		t.Fatalf("status = %v, want connecting", rec.Status)
	}
	if rec.Capabilities.MaxTokens != 4096 {
		t.Fatalf("capabilities not round-tripped: %+v", rec.Capabilities)
	}

	rec2, err := d.Upsert(ctx, id, "agent-one-renamed", types.AgentKindClaude, caps, "host-b", "1.0.1", 456)
	if err != nil {
		t.Fatalf("Upsert update: %v", err)
	}
	if rec2.ID != rec.ID {
		t.Fatalf("upsert on existing id created a new row")
	}
	if rec2.Name != "agent-one-renamed" || rec2.Hostname != "host-b" {
		t.Fatalf("update did not persist: %+v", rec2)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	d := newTestDirectory(t)
	_, err := d.GetByID(context.Background(), uuid.Must(uuid.NewV7()))
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	d := newTestDirectory(t)
	err := d.UpdateStatus(context.Background(), uuid.Must(uuid.NewV7()), types.AgentStatusReady, time.Now())
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkOfflineOnlyTouchesStale(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	fresh := uuid.Must(uuid.NewV7())
	stale := uuid.Must(uuid.NewV7())
	if _, err := d.Upsert(ctx, fresh, "fresh", types.AgentKindClaude, types.AgentCapabilities{}, "h", "v", 1); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	if _, err := d.Upsert(ctx, stale, "stale", types.AgentKindClaude, types.AgentCapabilities{}, "h", "v", 1); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}
	if err := d.UpdateStatus(ctx, stale, types.AgentStatusReady, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("update stale status: %v", err)
	}
	if err := d.UpdateStatus(ctx, fresh, types.AgentStatusReady, time.Now()); err != nil {
		t.Fatalf("update fresh status: %v", err)
	}

	offlined, err := d.MarkOffline(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if len(offlined) != 1 || offlined[0] != stale {
		t.Fatalf("offlined = %v, want only %v", offlined, stale)
	}

	rec, err := d.GetByID(ctx, fresh)
	if err != nil {
		t.Fatalf("GetByID fresh: %v", err)
	}
	if rec.Status == types.AgentStatusOffline {
		t.Fatal("fresh agent was incorrectly marked offline")
	}
}
