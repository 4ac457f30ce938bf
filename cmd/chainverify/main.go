// Copyright 2025 Certen Protocol
//
// chainverify independently replays a run's event-chain and reports whether
// every payload hash, chain hash, and signature still checks out. Exit code
// 0 means the stream verified; 1 means it didn't (or couldn't be read).

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/nooterra-core/pkg/config"
	"github.com/certen/nooterra-core/pkg/eventchain"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/store/embedded"
	"github.com/certen/nooterra-core/pkg/store/postgres"
)

type report struct {
	StreamID string `json:"streamId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	At       int    `json:"at"`
	Events   int    `json:"events"`
}

func main() {
	var (
		storeBackend = flag.String("store-backend", "", "Store backend: memory|postgres|embedded (defaults to STORE_BACKEND env var)")
		tenantID     = flag.String("tenant", "", "Tenant ID")
		runID        = flag.String("run", "", "Run ID whose event stream to verify")
		keysFile     = flag.String("keys-file", "", "Path to a JSON file of {keyId: base64PublicKey} used to verify signed events")
	)
	flag.Parse()

	if *tenantID == "" || *runID == "" {
		fmt.Fprintln(os.Stderr, "usage: chainverify -tenant <tenantId> -run <runId> [-store-backend memory|postgres|embedded] [-keys-file path]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load configuration: %v\n", err)
		os.Exit(1)
	}
	if *storeBackend != "" {
		cfg.StoreBackend = *storeBackend
	}

	keys, err := loadPublicKeys(*keysFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load keys file: %v\n", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open store backend %q: %v\n", cfg.StoreBackend, err)
		os.Exit(1)
	}
	defer closeStore()

	streamID := "run:" + *runID
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	events, err := st.GetEventStream(ctx, *tenantID, streamID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: read event stream %s: %v\n", streamID, err)
		os.Exit(1)
	}

	result := eventchain.VerifyChain(events, keys)
	out := report{StreamID: streamID, OK: result.OK, At: result.At, Events: len(events)}
	if result.Error != nil {
		out.Error = result.Error.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if !result.OK {
		os.Exit(1)
	}
}

// loadPublicKeys reads a JSON {keyId: base64(32-byte ed25519 public key)}
// file. An empty path yields an empty map: streams with no signed events
// verify fine without it, and a signed event against an unknown key fails
// with eventchain.ErrUnknownSignerKey exactly as a caller should expect.
func loadPublicKeys(path string) (map[string]ed25519.PublicKey, error) {
	out := map[string]ed25519.PublicKey{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for keyID, b64 := range raw {
		pub, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("key %s: invalid base64 ed25519 public key", keyID)
		}
		out[keyID] = ed25519.PublicKey(pub)
	}
	return out, nil
}

// openStore mirrors main.go's store backend selection so this CLI reads the
// same data the running engine does.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return store.NewMemoryStore(), func() {}, nil

	case "embedded":
		db, err := dbm.NewGoLevelDB("nooterra-core", cfg.EmbeddedDataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open embedded goleveldb at %s: %w", cfg.EmbeddedDataDir, err)
		}
		return embedded.New(db), func() { _ = db.Close() }, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.PostgresURL,
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxIdleTime: cfg.PostgresConnMaxIdleTime,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
