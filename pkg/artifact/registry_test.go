package artifact

import (
	"context"
	"testing"

	"github.com/certen/nooterra-core/pkg/store"
)

func TestRegistry_Put_DerivesIDAndDedupes(t *testing.T) {
	st := store.NewMemoryStore()
	reg := New(st)
	ctx := context.Background()

	body := map[string]interface{}{"runId": "run_1", "payerAgentId": "agent_a"}

	rec1, err := reg.Put(ctx, PutRequest{
		TenantID:     "tenant-a",
		ArtifactType: "ToolCallAgreement.v1",
		Body:         body,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec1.ArtifactID == "" {
		t.Fatalf("expected derived artifact id")
	}

	// Putting the same body again (e.g. a retried write) should dedupe to
	// the same content hash rather than erroring or duplicating storage.
	rec2, err := reg.Put(ctx, PutRequest{
		TenantID:     "tenant-a",
		ArtifactType: "ToolCallAgreement.v1",
		Body:         body,
	})
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if rec2.ArtifactID != rec1.ArtifactID {
		t.Fatalf("expected dedupe to same id, got %s vs %s", rec2.ArtifactID, rec1.ArtifactID)
	}
	if rec2.ContentHash != rec1.ContentHash {
		t.Fatalf("expected same content hash on dedupe")
	}
}

func TestRegistry_Put_ExplicitIDHashConflict(t *testing.T) {
	st := store.NewMemoryStore()
	reg := New(st)
	ctx := context.Background()

	if _, err := reg.Put(ctx, PutRequest{
		TenantID:     "tenant-a",
		ArtifactType: "ToolCallEvidence.v1",
		ArtifactID:   "evidence_fixed",
		Body:         map[string]interface{}{"result": "ok"},
	}); err != nil {
		t.Fatalf("first put: %v", err)
	}

	_, err := reg.Put(ctx, PutRequest{
		TenantID:     "tenant-a",
		ArtifactType: "ToolCallEvidence.v1",
		ArtifactID:   "evidence_fixed",
		Body:         map[string]interface{}{"result": "different"},
	})
	if err != ErrHashConflict {
		t.Fatalf("want ErrHashConflict, got %v", err)
	}
}

func TestRegistry_GetMany_SkipsMissing(t *testing.T) {
	st := store.NewMemoryStore()
	reg := New(st)
	ctx := context.Background()

	rec, err := reg.Put(ctx, PutRequest{
		TenantID:     "tenant-a",
		ArtifactType: "ArbitrationVerdict.v1",
		Body:         map[string]interface{}{"verdict": "payee"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := reg.GetMany(ctx, "tenant-a", []string{rec.ArtifactID, "does_not_exist"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}
	if _, ok := got[rec.ArtifactID]; !ok {
		t.Fatalf("expected %s in result", rec.ArtifactID)
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	st := store.NewMemoryStore()
	reg := New(st)
	ctx := context.Background()

	if _, err := reg.Get(ctx, "tenant-a", "missing"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
