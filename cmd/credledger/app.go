package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // Postgres Driver

	"github.com/Mindburn-Labs/credledger/pkg/config"
	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/crypto"
	"github.com/Mindburn-Labs/credledger/pkg/fraud"
	"github.com/Mindburn-Labs/credledger/pkg/issuance"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
	"github.com/Mindburn-Labs/credledger/pkg/observability"
)

const version = "v0.1.0"

// archiveKeyID names the key derived from LEDGER_SIGNING_SECRET for bundles.
const archiveKeyID = "credledger-archive-v1"

// app holds the wired service for one process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	obs     *observability.Provider
	svc     *issuance.Service
	closers []func() error
}

// openApp loads configuration and policy, opens the configured ledger backend
// and wires the issuance service over it. Logs go to logw.
func openApp(ctx context.Context, logw io.Writer) (*app, error) {
	cfg := config.Load()
	logger := observability.NewLogger(logw, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	policy := config.DefaultPolicy()
	if cfg.PolicyFile != "" {
		p, err := config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	ttl := cfg.TokenTTL
	if policy.TokenTTL > 0 {
		ttl = policy.TokenTTL
	}

	detector, err := fraud.NewDetector(policy.Fraud, fraud.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("fraud policy: %w", err)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	if cfg.OTLPEndpoint != "" {
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = cfg.OTLPInsecure
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	a.obs = obs

	l, err := a.openLedger(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	svc, err := issuance.New(l, credential.NewFactory(credential.WithTTL(ttl)), detector,
		issuance.WithLogger(logger.With("component", "issuance")),
		issuance.WithObservability(obs),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.svc = svc
	return a, nil
}

// openLedger opens the backend named by LEDGER_BACKEND and loads its history.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	var log ledger.Log
	switch a.cfg.LedgerBackend {
	case "memory":
		log = ledger.NewMemoryLog()
	case "file", "":
		if err := os.MkdirAll(filepath.Dir(a.cfg.LedgerPath), 0o750); err != nil {
			return nil, fmt.Errorf("ledger dir: %w", err)
		}
		fl, err := ledger.OpenFileLog(a.cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		log = fl
	case "sqlite", "postgres":
		driver, dsn, dialect := "sqlite", a.cfg.LedgerPath, ledger.DialectSQLite
		if a.cfg.LedgerBackend == "postgres" {
			driver, dsn, dialect = "postgres", a.cfg.DatabaseURL, ledger.DialectPostgres
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", driver, err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping %s: %w", driver, err)
		}
		sl := ledger.NewSQLLog(db, dialect)
		if err := sl.Init(ctx); err != nil {
			return nil, fmt.Errorf("init ledger schema: %w", err)
		}
		log = sl
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q (want memory, file, sqlite or postgres)", a.cfg.LedgerBackend)
	}

	l, err := ledger.Open(ctx, log, ledger.WithLogger(a.logger.With("component", "ledger")))
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	// Registered before the database handle closers run.
	a.closers = append([]func() error{l.Close}, a.closers...)
	a.logger.Info("ledger backend ready", "backend", a.cfg.LedgerBackend, "entries", l.Len())
	return l, nil
}

// signer derives the archive signing key. It fails when no secret is set.
func (a *app) signer() (*crypto.Ed25519Signer, error) {
	if a.cfg.SigningSecret == "" {
		return nil, errors.New("LEDGER_SIGNING_SECRET is not set")
	}
	return crypto.DeriveSigner([]byte(a.cfg.SigningSecret), archiveKeyID)
}

func (a *app) Close(ctx context.Context) {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.logger.Warn("observability shutdown failed", "error", err)
		}
	}
}
