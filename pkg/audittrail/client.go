// Copyright 2025 Certen Protocol
//
// Firestore Client
// Firebase Admin SDK client for mirroring committed events to Firestore

package audittrail

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client wraps the Firestore client with Nooterra-specific functionality.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client.
type ClientConfig struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to the service account JSON file. If
	// empty, uses GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually performed.
	// If false, all operations are no-ops, so the compliance mirror can be
	// left off in local development without touching call sites.
	Enabled bool

	Logger *log.Logger
}

// DefaultConfig returns a ClientConfig populated from environment variables.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("NOOTERRA_AUDIT_FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("NOOTERRA_AUDIT_MIRROR_ENABLED", false),
		Logger:          log.New(os.Stdout, "[AuditMirror] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client. When cfg.Enabled is false it
// returns a client whose methods are all no-ops, so callers never need to
// branch on whether the mirror is configured.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[AuditMirror] ", log.LstdFlags)
	}

	client := &Client{
		projectID: cfg.ProjectID,
		logger:    cfg.Logger,
		enabled:   cfg.Enabled,
	}

	if !cfg.Enabled {
		cfg.Logger.Println("audit mirror is DISABLED - running in no-op mode")
		return client, nil
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("NOOTERRA_AUDIT_FIREBASE_PROJECT_ID is required when the audit mirror is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	client.app = app
	client.firestore = firestoreClient

	cfg.Logger.Printf("audit mirror initialized for project: %s", cfg.ProjectID)
	return client, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// CreateEntry writes an audit entry.
// Path: /tenants/{tenantID}/auditTrail/{entryID}
func (c *Client) CreateEntry(ctx context.Context, tenantID string, entry *Entry) error {
	if !c.IsEnabled() {
		c.logger.Printf("audit mirror disabled - skipping entry tenant=%s kind=%s", tenantID, entry.Kind)
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}

	docPath := fmt.Sprintf("tenants/%s/auditTrail/%s", tenantID, entry.EntryID)
	_, err := c.firestore.Doc(docPath).Set(ctx, entryToFields(entry))
	if err != nil {
		c.logger.Printf("failed to create audit entry: %v", err)
		return fmt.Errorf("create audit entry: %w", err)
	}
	c.logger.Printf("recorded audit entry: tenant=%s kind=%s ref=%s", tenantID, entry.Kind, entry.RefID)
	return nil
}

// GetLatestEntry returns the most recently written entry for a tenant, used
// to chain PreviousHash. Returns (nil, nil) when the mirror is disabled or
// no prior entry exists.
func (c *Client) GetLatestEntry(ctx context.Context, tenantID string) (*Entry, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return nil, nil
	}
	collPath := fmt.Sprintf("tenants/%s/auditTrail", tenantID)
	docs, err := c.firestore.Collection(collPath).
		OrderBy("timestamp", gcpfirestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	entry, err := entryFromDoc(docs[0])
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntriesForRef returns every entry recorded against a given ref
// (a run ID, dispute ID, or gate ID), ordered oldest-first.
func (c *Client) ListEntriesForRef(ctx context.Context, tenantID, refID string) ([]*Entry, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return nil, nil
	}
	collPath := fmt.Sprintf("tenants/%s/auditTrail", tenantID)
	docs, err := c.firestore.Collection(collPath).
		Where("refId", "==", refID).
		OrderBy("timestamp", gcpfirestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query audit trail by ref: %w", err)
	}
	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		entry, err := entryFromDoc(doc)
		if err != nil {
			c.logger.Printf("warning: failed to parse audit entry %s: %v", doc.Ref.ID, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListEntriesForTenant returns the tenant's full chain, oldest-first.
func (c *Client) ListEntriesForTenant(ctx context.Context, tenantID string) ([]*Entry, error) {
	if !c.IsEnabled() || c.firestore == nil {
		return nil, nil
	}
	collPath := fmt.Sprintf("tenants/%s/auditTrail", tenantID)
	docs, err := c.firestore.Collection(collPath).
		OrderBy("timestamp", gcpfirestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		entry, err := entryFromDoc(doc)
		if err != nil {
			c.logger.Printf("warning: failed to parse audit entry %s: %v", doc.Ref.ID, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Health verifies connectivity by reading a document that need not exist;
// a NotFound response still proves the round trip succeeded.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}
	_, err := c.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}
