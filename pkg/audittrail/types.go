// Copyright 2025 Certen Protocol

package audittrail

import (
	"fmt"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
)

// Entry is one link in a tenant's hash-chained compliance mirror. It
// mirrors a committed event, not the event itself — the event log in
// pkg/eventchain remains the source of truth; this is a best-effort,
// human-auditable shadow of it.
// Kind is a dotted event name, e.g. "run.created", "dispute.opened",
// "gate.verified". RefID is the run/dispute/gate/RFQ id the entry is about.
type Entry struct {
	EntryID      string                 `json:"entryId" firestore:"entryId"`
	Kind         string                 `json:"kind" firestore:"kind"`
	RefID        string                 `json:"refId" firestore:"refId"`
	Action       string                 `json:"action" firestore:"action"`
	Actor        string                 `json:"actor" firestore:"actor"`
	Timestamp    time.Time              `json:"timestamp" firestore:"timestamp"`
	PreviousHash string                 `json:"previousHash" firestore:"previousHash"`
	EntryHash    string                 `json:"entryHash" firestore:"entryHash"`
	Details      map[string]interface{} `json:"details,omitempty" firestore:"details,omitempty"`
}

func entryToFields(e *Entry) map[string]interface{} {
	return map[string]interface{}{
		"entryId":      e.EntryID,
		"kind":         e.Kind,
		"refId":        e.RefID,
		"action":       e.Action,
		"actor":        e.Actor,
		"timestamp":    e.Timestamp,
		"previousHash": e.PreviousHash,
		"entryHash":    e.EntryHash,
		"details":      e.Details,
	}
}

func entryFromDoc(doc *gcpfirestore.DocumentSnapshot) (*Entry, error) {
	var entry Entry
	if err := doc.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("decode audit entry %s: %w", doc.Ref.ID, err)
	}
	if entry.EntryID == "" {
		entry.EntryID = doc.Ref.ID
	}
	return &entry, nil
}

// ChainVerification is the result of replaying a tenant's chain and
// recomputing each entry's hash.
type ChainVerification struct {
	TenantID   string    `json:"tenantId"`
	EntryCount int       `json:"entryCount"`
	Verified   bool      `json:"verified"`
	Errors     []string  `json:"errors,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Export is a portable snapshot of a tenant's compliance mirror, plus an
// integrity hash over its entries.
type Export struct {
	TenantID     string    `json:"tenantId"`
	ExportedAt   time.Time `json:"exportedAt"`
	ExportFormat string    `json:"exportFormat"`
	ExportHash   string    `json:"exportHash"`
	Entries      []*Entry  `json:"entries"`
}
