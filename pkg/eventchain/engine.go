// Copyright 2025 Certen Protocol
//
// Event-Chain Engine - append, CAS, and replay verification over pkg/store

package eventchain

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/nooterra-core/pkg/commitment"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
)

// Clock is injected so tests get a deterministic notion of "now", per the
// "clock is an explicit collaborator, not a process singleton" design note.
type Clock func() time.Time

// IDGenerator produces event IDs; tests inject a deterministic one.
type IDGenerator func() string

func defaultIDGenerator() string { return "evt_" + uuid.New().String() }

// Engine appends events to per-stream hash chains and replays/verifies them.
// It owns chain-hash computation (spec §4.4); pkg/store only ever validates
// the CAS pair it is handed and persists the result.
type Engine struct {
	store  store.Store
	signer *signing.Signer
	clock  Clock
	newID  IDGenerator
	logger *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option            { return func(e *Engine) { e.clock = c } }
func WithIDGenerator(g IDGenerator) Option { return func(e *Engine) { e.newID = g } }
func WithSigner(s *signing.Signer) Option  { return func(e *Engine) { e.signer = s } }
func WithLogger(logger *log.Logger) Option { return func(e *Engine) { e.logger = logger } }

// New constructs an Engine over the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		clock:  time.Now,
		newID:  defaultIDGenerator,
		logger: log.New(log.Writer(), "[EventChain] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppendRequest describes one event to append to a stream.
type AppendRequest struct {
	TenantID              string
	StreamID              string
	EventType             string
	Payload               interface{} // canonicalized before hashing
	Actor                 string
	ExpectedPrevChainHash string
	SignerKeyID           string // optional: sign the chain hash with this key
}

// atISO formats t the same way at Append time and at Verify time: UTC,
// second precision, so the value survives a round trip through any backend
// (including Postgres's microsecond-precision TIMESTAMPTZ) without the
// canonical hash changing.
func atISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// BuildAppendOp computes payloadHash, allocates an event id, computes the
// chain hash per spec §4.4 (sha256(canonical({prevChainHash, id, type, at,
// streamId, payloadHash}))), optionally signs it, and returns a ready-to-
// commit store.Op. Callers that need to batch this append alongside
// projection/artifact/wallet ops in one atomic commit (C7/C8/C9) use this
// directly instead of Append.
func (e *Engine) BuildAppendOp(ctx context.Context, req AppendRequest) (*store.Op, error) {
	payloadBytes, err := commitment.MarshalCanonical(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("eventchain: canonicalize payload: %w", err)
	}
	payloadHash := commitment.HashBytes(payloadBytes)

	id := e.newID()
	at := e.clock()

	chainHash, err := commitment.HashCanonical(map[string]interface{}{
		"prevChainHash": req.ExpectedPrevChainHash,
		"id":            id,
		"type":          req.EventType,
		"at":            atISO(at),
		"streamId":      req.StreamID,
		"payloadHash":   payloadHash,
	})
	if err != nil {
		return nil, fmt.Errorf("eventchain: compute chain hash: %w", err)
	}

	expectedRevision, err := e.nextRevision(ctx, req.TenantID, req.StreamID)
	if err != nil {
		return nil, err
	}

	var signature string
	if req.SignerKeyID != "" {
		if e.signer == nil {
			return nil, fmt.Errorf("eventchain: stream %s requires signing but no signer is configured", req.StreamID)
		}
		digest, err := hex.DecodeString(chainHash)
		if err != nil {
			return nil, fmt.Errorf("eventchain: decode chain hash: %w", err)
		}
		sig, err := e.signer.Sign(req.TenantID, req.SignerKeyID, digest)
		if err != nil {
			return nil, fmt.Errorf("eventchain: sign chain hash: %w", err)
		}
		signature = hex.EncodeToString(sig)
	}

	return &store.Op{
		Kind: store.OpEventAppend,
		Event: &store.EventAppendOp{
			TenantID:              req.TenantID,
			StreamID:              req.StreamID,
			EventID:               id,
			EventType:             req.EventType,
			At:                    at,
			Actor:                 req.Actor,
			Payload:               payloadBytes,
			PayloadHash:           payloadHash,
			ChainHash:             chainHash,
			ExpectedRevision:      expectedRevision,
			ExpectedPrevChainHash: req.ExpectedPrevChainHash,
			SignerKeyID:           req.SignerKeyID,
			Signature:             signature,
		},
	}, nil
}

func (e *Engine) nextRevision(ctx context.Context, tenantID, streamID string) (int64, error) {
	latest, err := e.store.GetLatestEvent(ctx, tenantID, streamID)
	if errors.Is(err, store.ErrEventNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventchain: read stream head: %w", err)
	}
	return latest.Revision + 1, nil
}

// Append builds and commits a single event in one atomic commit. Most
// callers append as one op among several (event + projection + artifact +
// wallet postings) via BuildAppendOp and their own CommitTx call instead.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (*store.EventRecord, error) {
	op, err := e.BuildAppendOp(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := e.store.CommitTx(ctx, []store.Op{*op})
	if err != nil {
		if errors.Is(err, store.ErrChainHashMismatch) {
			return nil, ErrChainHashMismatch
		}
		if errors.Is(err, store.ErrRevisionConflict) {
			return nil, ErrRevisionConflict
		}
		return nil, err
	}
	return &result.Events[0], nil
}

// GetStream returns every event committed to streamID, in revision order.
func (e *Engine) GetStream(ctx context.Context, tenantID, streamID string) ([]store.EventRecord, error) {
	return e.store.GetEventStream(ctx, tenantID, streamID)
}

// VerifyResult is the outcome of replaying a stream against its recorded
// hashes and signatures.
type VerifyResult struct {
	OK    bool
	Error error
	At    int // index into the event slice where verification first failed, -1 if OK
}

// VerifyChain recomputes payloadHash and chainHash for every event and
// checks per-stream linkage and, where present, signatures. publicKeyByKeyID
// supplies verification keys for any signed events; events with no
// SignerKeyID are not checked for a signature.
func VerifyChain(events []store.EventRecord, publicKeyByKeyID map[string]ed25519.PublicKey) *VerifyResult {
	prev := store.GenesisChainHash
	for i, ev := range events {
		if ev.PrevChainHash != prev {
			return &VerifyResult{OK: false, Error: ErrVerifyLinkageBroken, At: i}
		}

		wantPayloadHash := commitment.HashBytes(ev.Payload)
		if wantPayloadHash != ev.PayloadHash {
			return &VerifyResult{OK: false, Error: ErrVerifyPayloadHashMismatch, At: i}
		}

		wantChainHash, err := commitment.HashCanonical(map[string]interface{}{
			"prevChainHash": ev.PrevChainHash,
			"id":            ev.EventID,
			"type":          ev.EventType,
			"at":            atISO(ev.At),
			"streamId":      ev.StreamID,
			"payloadHash":   ev.PayloadHash,
		})
		if err != nil {
			return &VerifyResult{OK: false, Error: err, At: i}
		}
		if wantChainHash != ev.ChainHash {
			return &VerifyResult{OK: false, Error: ErrVerifyChainHashMismatch, At: i}
		}

		if ev.SignerKeyID != "" {
			pub, ok := publicKeyByKeyID[ev.SignerKeyID]
			if !ok {
				return &VerifyResult{OK: false, Error: ErrUnknownSignerKey, At: i}
			}
			digest, err := hex.DecodeString(ev.ChainHash)
			if err != nil {
				return &VerifyResult{OK: false, Error: err, At: i}
			}
			sig, err := hex.DecodeString(ev.Signature)
			if err != nil || !ed25519.Verify(pub, digest, sig) {
				return &VerifyResult{OK: false, Error: ErrVerifySignatureInvalid, At: i}
			}
		}

		prev = ev.ChainHash
	}
	return &VerifyResult{OK: true, At: -1}
}
