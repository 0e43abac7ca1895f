package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gramseva/points/internal/api"
	"github.com/gramseva/points/internal/app/ledger"
	"github.com/gramseva/points/internal/app/pinauth"
	"github.com/gramseva/points/internal/app/voucher"
	"github.com/gramseva/points/internal/audit"
	"github.com/gramseva/points/internal/auth"
	"github.com/gramseva/points/internal/infra/sqlite"
	"github.com/gramseva/points/internal/ratelimit"
)

// Daemon owns the wired service graph and the HTTP listener.
type Daemon struct {
	cfg    Config
	db     *sqlite.DB
	server *http.Server
}

// New wires the full service graph from configuration.
func New(cfg Config) (*Daemon, error) {
	if cfg.Keys.TokenSecret == "" || cfg.Keys.LedgerSecret == "" || cfg.Keys.VoucherSecret == "" {
		return nil, errors.New("keys.token_secret, keys.ledger_secret, and keys.voucher_secret must all be set")
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	auditLog := audit.New(db)
	limiter := ratelimit.NewMemory()
	resolver := auth.NewResolver([]byte(cfg.Keys.TokenSecret))

	eng := ledger.New(db, ledger.Config{
		ApplicationFee:  cfg.Ledger.ApplicationFee,
		MaxCreditAmount: cfg.Ledger.MaxCreditAmount,
		RefundWindow:    Duration(cfg.Ledger.RefundWindow, 10*time.Minute),
		Shares:          ledger.DefaultConfig().Shares,
	}, []byte(cfg.Keys.LedgerSecret), auditLog)

	vcfg := voucher.DefaultConfig()
	vcfg.MinValue = cfg.Voucher.MinValue
	vcfg.MaxActive = cfg.Voucher.MaxActive
	vcfg.Lifetime = Duration(cfg.Voucher.Lifetime, vcfg.Lifetime)
	vcfg.GenerateMax = cfg.RateLimit.GenerateMax
	vcfg.RedeemMax = cfg.RateLimit.RedeemMax
	vcfg.LimiterWindow = Duration(cfg.RateLimit.Window, vcfg.LimiterWindow)
	vs := voucher.New(db, vcfg, eng, limiter,
		[]byte(cfg.Keys.VoucherSecret), []byte(cfg.Keys.VoucherSecret), auditLog)

	pcfg := pinauth.DefaultConfig()
	pcfg.MaxAttempts = cfg.Pin.MaxAttempts
	pcfg.LockoutWindow = Duration(cfg.Pin.LockoutWindow, pcfg.LockoutWindow)
	pcfg.SessionTTL = Duration(cfg.Pin.SessionTTL, pcfg.SessionTTL)
	pa := pinauth.New(db, pcfg, resolver, auditLog)

	srv := api.NewServer(db, eng, vs, pa, resolver)
	srv.SetRequestTimeout(Duration(cfg.API.RequestTimeout, 30*time.Second))
	if cfg.API.MetricsEnabled {
		srv.EnableMetrics()
	}

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	return &Daemon{
		cfg: cfg,
		db:  db,
		server: &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until the context is cancelled, then drains in-flight
// requests and closes the database.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] listening on %s", d.server.Addr)
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		d.db.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[daemon] shutdown: %v", err)
	}
	return d.db.Close()
}
