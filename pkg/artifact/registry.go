// Copyright 2025 Certen Protocol
//
// Artifact Registry - content-addressed insert/lookup of signed documents

package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/certen/nooterra-core/pkg/commitment"
	"github.com/certen/nooterra-core/pkg/store"
)

// Registry is the content-addressed artifact store described in spec §4.5:
// putArtifact computes the artifact's hash, derives an id if the caller
// didn't supply one, and dedupes by content hash; getArtifact(s) reads back
// by id.
type Registry struct {
	store store.Store
}

// New constructs a Registry over st.
func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// PutRequest describes an artifact to insert. Body must be a JSON-shaped
// value (map[string]interface{} in practice); any pre-existing
// "artifactHash" field is stripped before hashing and replaced with the
// freshly computed one.
type PutRequest struct {
	TenantID     string
	ArtifactType string
	Body         map[string]interface{}
	ArtifactID   string // optional: explicit id, otherwise derived from the type + hash
}

// contentHash returns sha256(canonical(body without "artifactHash")), the
// exact formula from spec §3/§4.5.
func contentHash(body map[string]interface{}) (string, map[string]interface{}, error) {
	stripped := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "artifactHash" {
			continue
		}
		stripped[k] = v
	}
	hash, err := commitment.HashCanonical(stripped)
	if err != nil {
		return "", nil, fmt.Errorf("artifact: hash body: %w", err)
	}
	return hash, stripped, nil
}

func deriveID(artifactType, hash string) string {
	schema := artifactType
	if i := strings.IndexByte(schema, '.'); i >= 0 {
		schema = schema[:i]
	}
	schema = strings.ToLower(schema)
	prefixLen := 16
	if len(hash) < prefixLen {
		prefixLen = len(hash)
	}
	return fmt.Sprintf("%s_%s", schema, hash[:prefixLen])
}

// BuildPutOp computes the artifact's content hash and id and returns a
// store.Op ready to fold into a larger atomic commit (alongside the event
// and wallet postings that reference it) — callers that need the full
// artifact record back in the same transaction read it with GetArtifact
// after the commit lands, since CommitResult only reports event records.
//
// The returned op is a no-op write when an artifact with the same content
// hash already exists (store-level dedupe); BuildPutOp itself does not
// check for an explicit-id hash conflict, since that requires a read this
// function intentionally avoids — callers doing a standalone write should
// use Put instead, which performs that check.
func (r *Registry) BuildPutOp(req PutRequest) (*store.Op, string, error) {
	hash, stripped, err := contentHash(req.Body)
	if err != nil {
		return nil, "", err
	}
	stripped["artifactHash"] = hash

	id := req.ArtifactID
	if id == "" {
		id = deriveID(req.ArtifactType, hash)
	}

	bodyBytes, err := commitment.MarshalCanonical(stripped)
	if err != nil {
		return nil, "", fmt.Errorf("artifact: marshal body: %w", err)
	}

	return &store.Op{
		Kind: store.OpArtifactPut,
		Artifact: &store.ArtifactPutOp{
			TenantID:     req.TenantID,
			ArtifactType: req.ArtifactType,
			ArtifactID:   id,
			ContentHash:  hash,
			Body:         bodyBytes,
		},
	}, id, nil
}

// Put inserts a single artifact in its own commit, enforcing the
// explicit-id hash conflict check: if ArtifactID is set and an artifact
// with that id already exists under a different content hash, it returns
// ErrHashConflict instead of silently overwriting it (artifacts are
// immutable once written).
func (r *Registry) Put(ctx context.Context, req PutRequest) (*store.ArtifactRecord, error) {
	if req.ArtifactID != "" {
		existing, err := r.store.GetArtifact(ctx, req.TenantID, req.ArtifactID)
		if err != nil && !errors.Is(err, store.ErrArtifactNotFound) {
			return nil, err
		}
		if err == nil {
			hash, _, herr := contentHash(req.Body)
			if herr != nil {
				return nil, herr
			}
			if existing.ContentHash != hash {
				return nil, ErrHashConflict
			}
			return existing, nil
		}
	}

	op, id, err := r.BuildPutOp(req)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.CommitTx(ctx, []store.Op{*op}); err != nil {
		return nil, err
	}
	return r.store.GetArtifact(ctx, req.TenantID, id)
}

// Get returns the artifact stored under id.
func (r *Registry) Get(ctx context.Context, tenantID, artifactID string) (*store.ArtifactRecord, error) {
	rec, err := r.store.GetArtifact(ctx, tenantID, artifactID)
	if errors.Is(err, store.ErrArtifactNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetMany returns every artifact in ids, keyed by artifact id. A missing
// artifact is simply absent from the result map rather than failing the
// whole batch, matching spec §4.5's getArtifacts(ids) → map contract.
func (r *Registry) GetMany(ctx context.Context, tenantID string, ids []string) (map[string]*store.ArtifactRecord, error) {
	out := make(map[string]*store.ArtifactRecord, len(ids))
	for _, id := range ids {
		rec, err := r.store.GetArtifact(ctx, tenantID, id)
		if errors.Is(err, store.ErrArtifactNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

// GetByContentHash looks an artifact up by its content address.
func (r *Registry) GetByContentHash(ctx context.Context, tenantID, artifactType, hash string) (*store.ArtifactRecord, error) {
	rec, err := r.store.GetArtifactByContentHash(ctx, tenantID, artifactType, hash)
	if errors.Is(err, store.ErrArtifactNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}
