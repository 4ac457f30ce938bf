package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/nooterra-core/pkg/artifact"
	"github.com/certen/nooterra-core/pkg/audittrail"
	"github.com/certen/nooterra-core/pkg/config"
	"github.com/certen/nooterra-core/pkg/dispute"
	"github.com/certen/nooterra-core/pkg/eventchain"
	"github.com/certen/nooterra-core/pkg/marketplace"
	"github.com/certen/nooterra-core/pkg/pipeline"
	"github.com/certen/nooterra-core/pkg/run"
	"github.com/certen/nooterra-core/pkg/server"
	"github.com/certen/nooterra-core/pkg/signing"
	"github.com/certen/nooterra-core/pkg/store"
	"github.com/certen/nooterra-core/pkg/store/embedded"
	"github.com/certen/nooterra-core/pkg/store/postgres"
	"github.com/certen/nooterra-core/pkg/wallet"
	"github.com/certen/nooterra-core/pkg/x402gate"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting Nooterra engine")

	var (
		engineID = flag.String("engine-id", "", "Engine ID (overrides ENGINE_ID env var)")
		devMode  = flag.Bool("dev", false, "Relax configuration validation for local development")
		showHelp = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *engineID != "" {
		cfg.EngineID = *engineID
	}

	if *devMode {
		if err := cfg.ValidateForDevelopment(); err != nil {
			log.Fatalf("invalid development configuration: %v", err)
		}
		log.Printf("WARNING: running with relaxed development validation (-dev)")
	} else {
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
	}

	log.Printf("engine id: %s, store backend: %s", cfg.EngineID, cfg.StoreBackend)

	// ==========================================================================
	// Store backend
	// ==========================================================================
	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store backend %q: %v", cfg.StoreBackend, err)
	}
	log.Printf("store backend %q ready", cfg.StoreBackend)
	defer closeStore()

	// ==========================================================================
	// Signing: key registry + signer, bootstrapped from the persisted key file
	// ==========================================================================
	registry := signing.NewRegistry(signing.WithLogger(log.New(log.Writer(), "[Signing] ", log.LstdFlags)))
	signer := signing.NewSigner(registry)
	serverKeyID, err := loadOrGenerateServerKey(cfg, registry, signer)
	if err != nil {
		log.Fatalf("failed to provision server signing key: %v", err)
	}
	log.Printf("server signing key ready: %s", serverKeyID)

	// ==========================================================================
	// Compliance audit mirror (best-effort, never on the write path)
	// ==========================================================================
	auditCtx, auditCancel := context.WithTimeout(context.Background(), 10*time.Second)
	auditClient, err := audittrail.NewClient(auditCtx, &audittrail.ClientConfig{
		ProjectID:       cfg.AuditFirebaseProjectID,
		CredentialsFile: cfg.AuditCredentialsFile,
		Enabled:         cfg.AuditMirrorEnabled,
		Logger:          log.New(log.Writer(), "[AuditMirror] ", log.LstdFlags),
	})
	auditCancel()
	if err != nil {
		log.Printf("WARNING: audit mirror client failed to initialize, continuing without it: %v", err)
		auditClient, _ = audittrail.NewClient(context.Background(), &audittrail.ClientConfig{Enabled: false})
	} else if cfg.AuditMirrorEnabled {
		log.Printf("audit mirror enabled for project %s", cfg.AuditFirebaseProjectID)
	} else {
		log.Printf("audit mirror disabled")
	}
	auditTrail, err := audittrail.NewService(&audittrail.Config{
		Client:    auditClient,
		EngineTag: cfg.EngineID,
		Logger:    log.New(log.Writer(), "[AuditTrail] ", log.LstdFlags),
	})
	if err != nil {
		log.Fatalf("failed to construct audit trail service: %v", err)
	}

	// ==========================================================================
	// Domain engines
	// ==========================================================================
	chain := eventchain.New(st)
	artifacts := artifact.New(st)
	ledger := wallet.New(st, "USD")
	runs := run.New(st, chain, ledger)
	market := marketplace.New(st, artifacts, runs)
	gates := x402gate.New(st)
	disputes := dispute.New(st, artifacts, runs, signer, dispute.WithGateEngine(gates))
	pipe := pipeline.New(st)

	handlers := &server.Handlers{
		Store:      st,
		Signer:     signer,
		Registry:   registry,
		Artifacts:  artifacts,
		Ledger:     ledger,
		Runs:       runs,
		Market:     market,
		Disputes:   disputes,
		Gates:      gates,
		Pipeline:   pipe,
		AuditTrail: auditTrail,
		Logger:     log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		Broker:     server.NewBroker(),
	}

	router := server.NewRouter(handlers)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("Nooterra engine listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down Nooterra engine...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Printf("Nooterra engine stopped")
}

// openStore constructs the store.Store backend named by cfg.StoreBackend,
// returning a close function the caller must defer.
func openStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil

	case "embedded":
		if err := os.MkdirAll(cfg.EmbeddedDataDir, 0700); err != nil {
			return nil, nil, fmt.Errorf("create embedded data directory %s: %w", cfg.EmbeddedDataDir, err)
		}
		db, err := dbm.NewGoLevelDB("nooterra-core", cfg.EmbeddedDataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open embedded goleveldb at %s: %w", cfg.EmbeddedDataDir, err)
		}
		return embedded.New(db), func() {
			if err := db.Close(); err != nil {
				log.Printf("embedded store close error: %v", err)
			}
		}, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.PostgresURL,
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxIdleConns,
			ConnMaxIdleTime: cfg.PostgresConnMaxIdleTime,
			ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		}, postgres.WithLogger(log.New(log.Writer(), "[PostgresStore] ", log.LstdFlags)))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// serverKeyFile is the on-disk shape of the persisted server signing key.
// It mirrors the key ID returned at registration time so that events signed
// across a restart keep resolving to the same registry entry, the same way
// teacher's loadOrGenerateEd25519Key keeps one stable key across restarts.
type serverKeyFile struct {
	KeyID         string `json:"keyId"`
	PublicKeyB64  string `json:"publicKey"`
	PrivateKeyB64 string `json:"privateKey"`
}

// loadOrGenerateServerKey loads the engine's global server-purpose signing
// key from cfg.SignerKeyRegistryPath, generating and persisting a fresh one
// on first run. The key is registered with scope ScopeGlobalServer so it can
// countersign artifacts (settlement decisions, arbitration verdicts) for any
// tenant.
func loadOrGenerateServerKey(cfg *config.Config, registry *signing.Registry, signer *signing.Signer) (string, error) {
	keyPath := cfg.SignerKeyRegistryPath
	if keyPath == "" {
		log.Printf("WARNING: SIGNER_KEY_REGISTRY_PATH not set, using an ephemeral in-memory server key")
		pub, priv, err := signing.GenerateKeyPair()
		if err != nil {
			return "", fmt.Errorf("generate ephemeral server key: %w", err)
		}
		rec, err := registry.Register(signing.PurposeServer, signing.ScopeGlobalServer(), pub)
		if err != nil {
			return "", err
		}
		if err := signer.AddPrivateKey(rec.KeyID, priv); err != nil {
			return "", err
		}
		return rec.KeyID, nil
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return "", fmt.Errorf("create key registry directory: %w", err)
	}

	var kf serverKeyFile
	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		log.Printf("generating new server signing key at %s", keyPath)
		pub, priv, genErr := signing.GenerateKeyPair()
		if genErr != nil {
			return "", fmt.Errorf("generate server key: %w", genErr)
		}
		kf = serverKeyFile{
			KeyID:         "key_server_" + cfg.EngineID,
			PublicKeyB64:  base64.StdEncoding.EncodeToString(pub),
			PrivateKeyB64: base64.StdEncoding.EncodeToString(priv),
		}
		body, marshalErr := json.MarshalIndent(kf, "", "  ")
		if marshalErr != nil {
			return "", fmt.Errorf("encode server key file: %w", marshalErr)
		}
		if writeErr := os.WriteFile(keyPath, body, 0600); writeErr != nil {
			return "", fmt.Errorf("save server key to %s: %w", keyPath, writeErr)
		}
	} else if err != nil {
		return "", fmt.Errorf("read server key registry %s: %w", keyPath, err)
	} else {
		log.Printf("loading existing server signing key from %s", keyPath)
		if err := json.Unmarshal(data, &kf); err != nil {
			return "", fmt.Errorf("decode server key registry %s: %w", keyPath, err)
		}
	}

	pub, err := base64.StdEncoding.DecodeString(kf.PublicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("server key registry %s: invalid public key", keyPath)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKeyB64)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("server key registry %s: invalid private key", keyPath)
	}

	if _, err := registry.RegisterWithID(kf.KeyID, signing.PurposeServer, signing.ScopeGlobalServer(), ed25519.PublicKey(pub)); err != nil {
		return "", fmt.Errorf("register persisted server key: %w", err)
	}
	if err := signer.AddPrivateKey(kf.KeyID, ed25519.PrivateKey(priv)); err != nil {
		return "", fmt.Errorf("load persisted server key material: %w", err)
	}
	return kf.KeyID, nil
}

func printHelp() {
	fmt.Println("Nooterra transactional event-sourced engine")
	fmt.Println()
	fmt.Println("Usage: nooterra-core [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -engine-id string   Engine ID (overrides ENGINE_ID env var)")
	fmt.Println("  -dev                Relax configuration validation for local development")
	fmt.Println("  -help               Show this help message")
	fmt.Println()
	fmt.Println("Configuration is read from environment variables; see pkg/config for the full list.")
}
