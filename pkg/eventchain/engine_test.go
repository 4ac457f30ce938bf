package eventchain

import (
	"context"
	"testing"
	"time"

	"github.com/certen/nooterra-core/pkg/store"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func TestEngine_Append_GenesisAndChain(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st,
		WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
		WithIDGenerator(sequentialIDs("evt_")),
	)
	ctx := context.Background()

	rec1, err := eng.Append(ctx, AppendRequest{
		TenantID:              "tenant-a",
		StreamID:              "run_1",
		EventType:             "run.created",
		Payload:               map[string]interface{}{"runId": "run_1"},
		Actor:                 "agent_1",
		ExpectedPrevChainHash: store.GenesisChainHash,
	})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if rec1.Revision != 1 {
		t.Fatalf("want revision 1, got %d", rec1.Revision)
	}
	if rec1.PrevChainHash != store.GenesisChainHash {
		t.Fatalf("want genesis prev chain hash, got %s", rec1.PrevChainHash)
	}
	if rec1.ChainHash == "" || rec1.ChainHash == store.GenesisChainHash {
		t.Fatalf("expected a real chain hash, got %q", rec1.ChainHash)
	}

	rec2, err := eng.Append(ctx, AppendRequest{
		TenantID:              "tenant-a",
		StreamID:              "run_1",
		EventType:             "run.settled",
		Payload:               map[string]interface{}{"runId": "run_1", "status": "settled"},
		Actor:                 "agent_1",
		ExpectedPrevChainHash: rec1.ChainHash,
	})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if rec2.Revision != 2 {
		t.Fatalf("want revision 2, got %d", rec2.Revision)
	}
	if rec2.PrevChainHash != rec1.ChainHash {
		t.Fatalf("chain broken: rec2.PrevChainHash=%s rec1.ChainHash=%s", rec2.PrevChainHash, rec1.ChainHash)
	}

	events, err := eng.GetStream(ctx, "tenant-a", "run_1")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	result := VerifyChain(events, nil)
	if !result.OK {
		t.Fatalf("expected chain to verify, got error at %d: %v", result.At, result.Error)
	}
}

func TestEngine_Append_StaleExpectedPrevChainHashRejected(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, WithIDGenerator(sequentialIDs("evt_")))
	ctx := context.Background()

	if _, err := eng.Append(ctx, AppendRequest{
		TenantID:              "tenant-a",
		StreamID:              "run_1",
		EventType:             "run.created",
		Payload:               map[string]interface{}{"runId": "run_1"},
		ExpectedPrevChainHash: store.GenesisChainHash,
	}); err != nil {
		t.Fatalf("first append: %v", err)
	}

	_, err := eng.Append(ctx, AppendRequest{
		TenantID:              "tenant-a",
		StreamID:              "run_1",
		EventType:             "run.settled",
		Payload:               map[string]interface{}{"runId": "run_1"},
		ExpectedPrevChainHash: store.GenesisChainHash, // stale: stream has moved on
	})
	if err != ErrChainHashMismatch {
		t.Fatalf("want ErrChainHashMismatch, got %v", err)
	}
}

func TestVerifyChain_DetectsTamperedPayload(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, WithIDGenerator(sequentialIDs("evt_")))
	ctx := context.Background()

	if _, err := eng.Append(ctx, AppendRequest{
		TenantID:              "tenant-a",
		StreamID:              "run_1",
		EventType:             "run.created",
		Payload:               map[string]interface{}{"runId": "run_1"},
		ExpectedPrevChainHash: store.GenesisChainHash,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := eng.GetStream(ctx, "tenant-a", "run_1")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	events[0].Payload = []byte(`{"runId":"run_tampered"}`)

	result := VerifyChain(events, nil)
	if result.OK {
		t.Fatalf("expected tampered payload to fail verification")
	}
	if result.Error != ErrVerifyPayloadHashMismatch {
		t.Fatalf("want ErrVerifyPayloadHashMismatch, got %v", result.Error)
	}
}

func TestVerifyChain_DetectsBrokenLinkage(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, WithIDGenerator(sequentialIDs("evt_")))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		prev := store.GenesisChainHash
		events, _ := eng.GetStream(ctx, "tenant-a", "run_1")
		if len(events) > 0 {
			prev = events[len(events)-1].ChainHash
		}
		if _, err := eng.Append(ctx, AppendRequest{
			TenantID:              "tenant-a",
			StreamID:              "run_1",
			EventType:             "run.step",
			Payload:               map[string]interface{}{"step": i},
			ExpectedPrevChainHash: prev,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := eng.GetStream(ctx, "tenant-a", "run_1")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	events[1].PrevChainHash = "not-the-real-prev-hash"

	result := VerifyChain(events, nil)
	if result.OK || result.Error != ErrVerifyLinkageBroken {
		t.Fatalf("want ErrVerifyLinkageBroken, got ok=%v err=%v", result.OK, result.Error)
	}
}
