// Copyright 2025 Certen Protocol
//
// Audit Trail Service
// Best-effort compliance mirror of committed runs/wallet/dispute/gate
// activity, hash-chained per tenant

package audittrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Service mirrors committed activity to Firestore for compliance export.
// It is never on a commitTx's critical path: every Record* method logs and
// swallows its own errors rather than propagating them, since a mirror
// outage must never block the engine's actual write path.
type Service struct {
	client    *Client
	engineTag string
	logger    *log.Logger
}

// Config holds configuration for the audit trail service.
type Config struct {
	Client *Client
	// EngineTag identifies this process in the Actor field of entries it
	// writes, e.g. "nooterra-core-1".
	EngineTag string
	Logger    *log.Logger
}

func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[AuditTrail] ", log.LstdFlags)
	}
	return &Service{
		client:    cfg.Client,
		engineTag: cfg.EngineTag,
		logger:    cfg.Logger,
	}, nil
}

func (s *Service) IsEnabled() bool {
	return s.client != nil && s.client.IsEnabled()
}

// entryParams holds the caller-supplied fields of a new entry.
type entryParams struct {
	Kind    string
	RefID   string
	Action  string
	Details map[string]interface{}
}

// RecordRunCreated mirrors a run's creation, once its wallet hold commits.
func (s *Service) RecordRunCreated(ctx context.Context, tenantID, runID string, amountCents int64, currency string) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "run.created",
		RefID:  runID,
		Action: "Run created and funds held",
		Details: map[string]interface{}{
			"amountCents": amountCents,
			"currency":    currency,
		},
	})
}

// RecordRunSettled mirrors a run reaching a terminal settlement status.
func (s *Service) RecordRunSettled(ctx context.Context, tenantID, runID, status string, settledCents int64) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "run.settled",
		RefID:  runID,
		Action: fmt.Sprintf("Run settled with status %s", status),
		Details: map[string]interface{}{
			"status":       status,
			"settledCents": settledCents,
		},
	})
}

// RecordDisputeOpened mirrors a dispute escalation.
func (s *Service) RecordDisputeOpened(ctx context.Context, tenantID, disputeID, runID, escalationLevel string) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "dispute.opened",
		RefID:  disputeID,
		Action: fmt.Sprintf("Dispute opened at escalation level %s", escalationLevel),
		Details: map[string]interface{}{
			"runId":           runID,
			"escalationLevel": escalationLevel,
		},
	})
}

// RecordDisputeClosed mirrors a dispute resolution and its settlement
// adjustment.
func (s *Service) RecordDisputeClosed(ctx context.Context, tenantID, disputeID, adjustmentKind string, adjustmentCents int64) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "dispute.closed",
		RefID:  disputeID,
		Action: fmt.Sprintf("Dispute closed with adjustment %s", adjustmentKind),
		Details: map[string]interface{}{
			"adjustmentKind":  adjustmentKind,
			"adjustmentCents": adjustmentCents,
		},
	})
}

// RecordGateAuthorized mirrors an x402 gate accepting payment.
func (s *Service) RecordGateAuthorized(ctx context.Context, tenantID, gateID, payerAddress string) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "gate.authorized",
		RefID:  gateID,
		Action: "x402 gate authorized for payment",
		Details: map[string]interface{}{
			"payerAddress": payerAddress,
		},
	})
}

// RecordGateVerified mirrors an x402 gate closing out against evidence.
func (s *Service) RecordGateVerified(ctx context.Context, tenantID, gateID, settlementRunID string) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "gate.verified",
		RefID:  gateID,
		Action: "x402 gate verified against evidence",
		Details: map[string]interface{}{
			"settlementRunId": settlementRunID,
		},
	})
}

// RecordArtifactPut mirrors a content-addressed artifact being registered.
func (s *Service) RecordArtifactPut(ctx context.Context, tenantID, artifactID, artifactType, contentHash string) {
	s.record(ctx, tenantID, entryParams{
		Kind:   "artifact.put",
		RefID:  artifactID,
		Action: fmt.Sprintf("Artifact registered: %s", artifactType),
		Details: map[string]interface{}{
			"artifactType": artifactType,
			"contentHash":  contentHash,
		},
	})
}

// record is the shared entry point every Record* method funnels through; it
// never returns an error to the caller, since a mirror write failure must
// never interrupt the commit path that triggered it.
func (s *Service) record(ctx context.Context, tenantID string, params entryParams) {
	if err := s.createEntry(ctx, tenantID, params); err != nil {
		s.logger.Printf("audit mirror write failed: tenant=%s kind=%s err=%v", tenantID, params.Kind, err)
	}
}

// createEntry creates an audit entry chained off the tenant's latest entry.
func (s *Service) createEntry(ctx context.Context, tenantID string, params entryParams) error {
	if !s.IsEnabled() {
		s.logger.Printf("audit mirror disabled - skipping entry tenant=%s kind=%s", tenantID, params.Kind)
		return nil
	}

	var previousHash string
	if prev, err := s.client.GetLatestEntry(ctx, tenantID); err == nil && prev != nil {
		previousHash = prev.EntryHash
	}

	entry := &Entry{
		EntryID:      uuid.New().String(),
		Kind:         params.Kind,
		RefID:        params.RefID,
		Action:       params.Action,
		Actor:        fmt.Sprintf("engine-%s", s.engineTag),
		Timestamp:    time.Now(),
		PreviousHash: previousHash,
		Details:      params.Details,
	}
	entry.EntryHash = computeEntryHash(entry)

	return s.client.CreateEntry(ctx, tenantID, entry)
}

// computeEntryHash hashes a deterministic projection of entry, chaining it
// to PreviousHash.
func computeEntryHash(entry *Entry) string {
	data := map[string]interface{}{
		"kind":         entry.Kind,
		"refId":        entry.RefID,
		"action":       entry.Action,
		"actor":        entry.Actor,
		"timestamp":    entry.Timestamp.Unix(),
		"previousHash": entry.PreviousHash,
		"details":      entry.Details,
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}

// VerifyChain replays a tenant's mirrored entries and recomputes each
// entry's hash, confirming the chain was never tampered with.
func (s *Service) VerifyChain(ctx context.Context, tenantID string) (*ChainVerification, error) {
	if !s.IsEnabled() {
		return nil, fmt.Errorf("audit trail service is disabled")
	}

	entries, err := s.client.ListEntriesForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &ChainVerification{
		TenantID:   tenantID,
		EntryCount: len(entries),
		Verified:   true,
		CheckedAt:  time.Now(),
	}

	var previousHash string
	for i, entry := range entries {
		if entry.PreviousHash != previousHash {
			result.Verified = false
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): previousHash mismatch - expected %s, got %s",
				i, entry.EntryID, previousHash, entry.PreviousHash))
		}
		if computed := computeEntryHash(entry); entry.EntryHash != computed {
			result.Verified = false
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d (%s): entryHash mismatch - expected %s, got %s",
				i, entry.EntryID, computed, entry.EntryHash))
		}
		previousHash = entry.EntryHash
	}

	return result, nil
}

// ExportTenant exports the full mirrored chain for a tenant in a portable
// format, with an integrity hash over the entry set.
func (s *Service) ExportTenant(ctx context.Context, tenantID string) (*Export, error) {
	if !s.IsEnabled() {
		return nil, fmt.Errorf("audit trail service is disabled")
	}
	entries, err := s.client.ListEntriesForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	export := &Export{
		TenantID:     tenantID,
		ExportedAt:   time.Now(),
		ExportFormat: "nooterra_audit_v1",
		Entries:      entries,
	}
	exportData, _ := json.Marshal(export.Entries)
	hash := sha256.Sum256(exportData)
	export.ExportHash = hex.EncodeToString(hash[:])
	return export, nil
}
