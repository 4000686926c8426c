// pinnerd is the Pintheon pinner agent: it watches a Soroban pinning
// contract for PIN offers, pins accepted content on a local Kubo node,
// claims the payment on chain, and audits rival pinners.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/stellar/go/keypair"

	"github.com/pintheon/pinner/internal/api"
	"github.com/pintheon/pinner/internal/audit"
	"github.com/pintheon/pinner/internal/config"
	"github.com/pintheon/pinner/internal/daemon"
	"github.com/pintheon/pinner/internal/ipfs"
	"github.com/pintheon/pinner/internal/ledger"
	"github.com/pintheon/pinner/internal/metrics"
	"github.com/pintheon/pinner/internal/policy"
	"github.com/pintheon/pinner/internal/store"
)

func main() {
	configPath := flag.String("config", "~/.pintheon-pinner/config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real env vars still win
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	kp, err := keypair.ParseFull(cfg.Stellar.KeypairSecret)
	if err != nil {
		log.Fatalf("parse signing secret: %v", err)
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer st.Close()

	applyStoredOverrides(cfg, st)

	m := metrics.New()

	client := ledger.NewClient(cfg.Stellar.RPCURL)
	poller := ledger.NewPoller(client, cfg.Stellar.ContractID, cfg.Stellar.StartLedger)
	queries := ledger.NewQueries(client, cfg.Stellar.ContractID, kp.Address(), cfg.Stellar.HorizonURL)
	submitter := ledger.NewSubmitter(client, cfg.Stellar.ContractID, kp, cfg.Stellar.NetworkPassphrase)

	filter := policy.NewOfferFilter(queries, kp.Address(), cfg.Policy.MinPrice)
	executor := ipfs.NewExecutor(cfg.IPFS.KuboRPCURL,
		time.Duration(cfg.IPFS.PinTimeoutSecs)*time.Second, cfg.IPFS.MaxContentSize, cfg.IPFS.FetchRetries)

	modeCtrl := daemon.NewModeController(cfg.Daemon.Mode)

	var hunter *audit.Hunter
	if cfg.Hunter.Enabled {
		verifier := ipfs.NewVerifier(cfg.IPFS.KuboRPCURL, cfg.Hunter.CheckTimeout(), cfg.Hunter.VerificationMethods)
		registry := audit.NewRegistry(st, queries, cfg.Hunter.PinnerCacheTTL())
		scheduler := audit.NewScheduler(st, verifier, registry, submitter,
			cfg.Hunter.MaxConcurrentChecks, cfg.Hunter.FailureThreshold)
		hunter = audit.NewHunter(st, registry, scheduler, cfg.Hunter.CycleInterval(), kp.Address())
	}

	var hooks daemon.AuditHooks
	if hunter != nil {
		hooks = hunter
	}
	d := daemon.New(st, poller, filter, executor, submitter, modeCtrl, hooks, m,
		cfg.PollInterval(), cfg.ErrorBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hunter != nil {
		hunter.Start(ctx)
		defer hunter.Stop()
	}

	if cfg.API.Enabled {
		agg := api.NewAggregator(st, queries, modeCtrl, filter, hunter, m, kp.Address())
		server := api.NewServer(agg, cfg.Hunter.FailureThreshold)
		go func() {
			if err := server.Start(cfg.API.Port); err != nil {
				log.Printf("api server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %s, shutting down", sig)
		d.Stop()
	}()

	log.Printf("pinnerd starting: address=%s contract=%s network=%s",
		kp.Address(), cfg.Stellar.ContractID, cfg.Stellar.Network)
	if err := d.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("daemon: %v", err)
	}
}

// applyStoredOverrides layers runtime settings the operator changed
// through the API in a previous run over the file config. Mode and
// min_price also apply live; max_content_size is sized into the pin
// executor here, so a policy update to it takes effect at next start.
func applyStoredOverrides(cfg *config.Config, st *store.Store) {
	rec, ok, err := st.DaemonConfig()
	if err != nil {
		log.Printf("read stored config: %v", err)
		return
	}
	if !ok {
		return
	}
	if config.ValidMode(rec.Mode) {
		cfg.Daemon.Mode = rec.Mode
	}
	if rec.MinPrice >= 0 {
		cfg.Policy.MinPrice = rec.MinPrice
	}
	if rec.MaxContentSize > 0 {
		cfg.IPFS.MaxContentSize = rec.MaxContentSize
	}
}
