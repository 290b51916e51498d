// Package main runs the evolution authorization service:
// - Scheduler (periodic): scans minted tokens and evolves those off cooldown
// - API (on demand): eligibility checks, single-token evolution, manual scans
// - Watcher (optional): follows Evolved events to keep the metadata cache warm
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"evonft-service/internal/api"
	"evonft-service/internal/config"
	"evonft-service/internal/events"
	"evonft-service/internal/evolution"
	"evonft-service/internal/generator"
	"evonft-service/internal/ledger"
	"evonft-service/internal/ledger/stub"
	"evonft-service/internal/metadata"
	"evonft-service/internal/observability"
	"evonft-service/internal/orchestrator"
	"evonft-service/internal/publish"
	"evonft-service/internal/scheduler"
	"evonft-service/internal/signing"
	"evonft-service/internal/storage"
	chstore "evonft-service/internal/storage/clickhouse"
	"evonft-service/internal/storage/memory"
	"evonft-service/internal/storage/migrations"
	pgstore "evonft-service/internal/storage/postgres"
)

// memoryGenesisTokens is how many tokens the in-memory ledger starts with.
const memoryGenesisTokens = 5

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

// stores holds the audit storage implementations.
type stores struct {
	attempts     storage.AttemptStore
	runs         storage.ScanRunStore
	observations storage.ScoreObservationStore
}

// chain is the ledger plus the key material bound to it.
type chain struct {
	ledger    ledger.Ledger
	signerKey *ecdsa.PrivateKey
	contract  common.Address
}

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatalf("Failed to parse configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration:\n%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	metrics := observability.DefaultMetrics

	ch, err := createChain(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	st, closeStores, err := createStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer closeStores()

	publisher, objectFetcher, scheme, err := createPublisher(cfg)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}

	router := metadata.NewRouter().
		Handle(metadata.NewHTTPFetcher(cfg.IPFSGateway, 0), "http", "https", "ipfs").
		Handle(objectFetcher, scheme)
	cache, err := metadata.NewCachingFetcher(router, cfg.MetadataCacheSize, metrics)
	if err != nil {
		return fmt.Errorf("create metadata cache: %w", err)
	}

	describer, imager, err := createGenerators(ctx, cfg, publisher)
	if err != nil {
		return fmt.Errorf("create generators: %w", err)
	}
	pipe := evolution.New(evolution.Options{
		Describer: describer,
		Imager:    imager,
		Logger:    log.New(os.Stdout, "[evolution] ", log.LstdFlags),
		Metrics:   metrics,
		Verbose:   cfg.Verbose,
	})

	authority, err := signing.NewAuthority(signing.Options{
		PrivateKey:        ch.signerKey,
		Name:              cfg.DomainName,
		VerifyingContract: ch.contract,
		Chain:             ch.ledger,
	})
	if err != nil {
		return fmt.Errorf("create signing authority: %w", err)
	}
	logger.Printf("Signing authorizations as %s for contract %s", authority.Address().Hex(), ch.contract.Hex())

	eventPublisher, closeEvents, err := createEvents(cfg)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer closeEvents()

	orch, err := orchestrator.New(orchestrator.Options{
		Ledger:       ch.ledger,
		Loader:       metadata.NewLoader(cache, evolution.DefaultName),
		Pipeline:     pipe,
		Publisher:    publisher,
		Signer:       authority,
		Attempts:     st.attempts,
		Observations: st.observations,
		Events:       eventPublisher,
		Metrics:      metrics,
		Logger:       log.New(os.Stdout, "", log.LstdFlags),
		Verbose:      cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	lease, closeLease, err := createLease(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create scan lease: %w", err)
	}
	defer closeLease()

	sched, err := scheduler.New(scheduler.Options{
		Ledger:      ch.ledger,
		Evolver:     orch,
		Runs:        st.runs,
		Events:      eventPublisher,
		Lease:       lease,
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.ScanInterval,
		ItemDelay:   cfg.ItemDelay,
		WarmupDelay: cfg.WarmupDelay,
		Metrics:     metrics,
		Logger:      log.New(os.Stdout, "", log.LstdFlags),
		Verbose:     cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	apiServer := api.New(api.Options{
		Scanner:    sched,
		Evolver:    orch,
		Batcher:    sched,
		Attempts:   st.attempts,
		Metrics:    observability.Handler(),
		Logger:     logger,
		Background: ctx,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		apiServer.Wait()
		return err
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if cfg.WSEndpoint != "" && !cfg.UseMemory {
		watcherCfg := ledger.DefaultWatcherConfig()
		watcher, err := ledger.NewWatcher(cfg.WSEndpoint, ch.contract, &watcherCfg, log.New(os.Stdout, "[ledger] ", log.LstdFlags))
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(gctx, func(ev ledger.EvolvedEvent) {
				if ev.Removed {
					cache.Invalidate(ev.NewURI)
					return
				}
				if err := cache.Warm(gctx, ev.NewURI); err != nil {
					logger.Printf("Warm metadata for token %d: %v", ev.TokenID, err)
				}
			})
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// createChain builds the ledger. Memory mode uses the in-memory ledger with
// a few genesis tokens and, absent a configured key, an ephemeral signer.
func createChain(cfg *config.Config, metrics *observability.Metrics, logger *log.Logger) (*chain, error) {
	var contract common.Address
	if cfg.ContractAddress != "" {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
		}
		contract = common.HexToAddress(cfg.ContractAddress)
	}

	if cfg.UseMemory {
		key, err := memorySignerKey(cfg.SignerKey, logger)
		if err != nil {
			return nil, err
		}
		l := stub.New(stub.Options{
			Contract:      contract,
			Name:          cfg.DomainName,
			TrustedSigner: crypto.PubkeyToAddress(key.PublicKey),
		})
		for i := 0; i < memoryGenesisTokens; i++ {
			l.Mint("")
		}
		logger.Printf("Using in-memory ledger with %d genesis tokens", memoryGenesisTokens)
		return &chain{ledger: l, signerKey: key, contract: contract}, nil
	}

	signerKey, err := signing.ParsePrivateKey(cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	submitterKey, err := signing.ParsePrivateKey(cfg.SubmitterKey)
	if err != nil {
		return nil, fmt.Errorf("submitter key: %w", err)
	}

	rpc := ledger.NewHTTPClient(cfg.RPCEndpoint, ledger.WithMetrics(metrics))
	contractClient, err := ledger.NewContract(ledger.ContractOptions{
		RPC:          rpc,
		Address:      contract,
		SubmitterKey: submitterKey,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("Using contract %s via %s", contract.Hex(), cfg.RPCEndpoint)
	return &chain{ledger: contractClient, signerKey: signerKey, contract: contract}, nil
}

func memorySignerKey(hexKey string, logger *log.Logger) (*ecdsa.PrivateKey, error) {
	if hexKey != "" {
		return signing.ParsePrivateKey(hexKey)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signer key: %w", err)
	}
	logger.Println("No signer key configured, using an ephemeral key")
	return key, nil
}

// createStores creates the audit stores. In memory mode nothing is persisted.
func createStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	if cfg.UseMemory {
		return &stores{
			attempts:     memory.NewAttemptStore(),
			runs:         memory.NewScanRunStore(),
			observations: memory.NewScoreObservationStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	applied, err := migrations.ApplyPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Printf("[postgres] applied migrations %v", applied)
	}

	conn, err := chstore.EnsureDatabase(ctx, cfg.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	applied, err = migrations.ApplyClickhouse(ctx, conn)
	if err != nil {
		pool.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Printf("[clickhouse] applied migrations %v", applied)
	}

	cleanup := func() {
		pool.Close()
		conn.Close()
	}
	return &stores{
		attempts:     pgstore.NewAttemptStore(pool),
		runs:         pgstore.NewScanRunStore(pool),
		observations: chstore.NewScoreObservationStore(conn),
	}, cleanup, nil
}

// createPublisher returns the publisher, the fetcher that reads its URIs
// back, and that fetcher's URI scheme.
func createPublisher(cfg *config.Config) (publish.Publisher, metadata.Fetcher, string, error) {
	if !cfg.S3.Enabled() {
		mem := publish.NewMemory()
		return mem, mem, "mem", nil
	}
	s3, err := publish.NewS3Store(publish.S3Config{
		Endpoint:      cfg.S3.Endpoint,
		Region:        cfg.S3.Region,
		AccessKey:     cfg.S3.AccessKey,
		SecretKey:     cfg.S3.SecretKey,
		Bucket:        cfg.S3.Bucket,
		Prefix:        cfg.S3.Prefix,
		UseSSL:        cfg.S3.UseSSL,
		PublicBaseURL: cfg.S3.PublicBaseURL,
	})
	if err != nil {
		return nil, nil, "", err
	}
	return s3, s3, "s3", nil
}

// createGenerators picks the description and image backends. A nil
// generator makes the pipeline use its fallback.
func createGenerators(ctx context.Context, cfg *config.Config, publisher publish.Publisher) (evolution.Describer, evolution.Imager, error) {
	var describer evolution.Describer
	var imager evolution.Imager

	geminiCfg := generator.GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
		RPS:        cfg.GeminiRPS,
	}
	if cfg.GeminiAPIKey != "" {
		cli, err := generator.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		describer = generator.NewGeminiDescriber(cli, geminiCfg)
		if cfg.ImageGenerator == config.ImagesGemini {
			imager = generator.NewGeminiImager(cli, publisher, geminiCfg)
		}
	}
	if cfg.ImageGenerator == config.ImagesSVG {
		imager = generator.NewSVGImager(publisher)
	}
	return describer, imager, nil
}

// createEvents returns the Kafka publisher when brokers are configured.
func createEvents(cfg *config.Config) (events.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, func() {}, nil
	}
	p, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}

// createLease returns the Redis scan lease when Redis is configured.
func createLease(ctx context.Context, cfg *config.Config) (scheduler.Lease, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client, err := scheduler.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.NewRedisLease(client, cfg.LeaseKey, cfg.LeaseTTL), func() { client.Close() }, nil
}
