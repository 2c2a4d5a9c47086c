package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/api"
	"github.com/navikt/isaktivitetskrav/internal/archive"
	"github.com/navikt/isaktivitetskrav/internal/assessment"
	"github.com/navikt/isaktivitetskrav/internal/automigrate"
	"github.com/navikt/isaktivitetskrav/internal/closer"
	"github.com/navikt/isaktivitetskrav/internal/config"
	"github.com/navikt/isaktivitetskrav/internal/identity"
	"github.com/navikt/isaktivitetskrav/internal/leader"
	"github.com/navikt/isaktivitetskrav/internal/notice"
	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/publish"
	"github.com/navikt/isaktivitetskrav/internal/renderer"
	"github.com/navikt/isaktivitetskrav/internal/scheduler"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := automigrate.Run(db, "migrations"); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	caseStore := store.NewCaseStore(db)
	noticeStore := store.NewNoticeStore(db)
	registry := obs.NewRegistry()

	producer, err := newProducer(cfg)
	if err != nil {
		log.Fatalf("event bus: %v", err)
	}

	machineCfg := assessment.Config{
		DueWeeks:             cfg.Assessment.DueWeeks,
		ResponseDeadlineDays: cfg.Assessment.ResponseDeadlineDays,
	}
	machine := assessment.NewMachine(machineCfg)
	service := assessment.NewService(machine, caseStore, producer, assessment.WithServiceLogf(log.Printf))
	episodes := assessment.NewEpisodeService(machineCfg, caseStore, service, assessment.WithEpisodeLogf(log.Printf))

	identityClient, err := identity.NewClient(cfg.External.IdentityBaseURL)
	if err != nil {
		log.Fatalf("identity client: %v", err)
	}
	rekey := identity.NewRekeyService(caseStore, identityClient, log.Printf)

	var verifier *api.Verifier
	if cfg.WebhookSecret != "" {
		verifier = api.NewVerifier(cfg.WebhookSecret)
	}

	if cfg.Jobs.Enabled {
		sched, err := newScheduler(cfg, caseStore, noticeStore, service, producer, identityClient, registry)
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.Printf("scheduler stop: %v", err)
			}
		}()
	}

	router := api.NewRouter(api.Deps{
		Cases:    caseStore,
		Service:  service,
		Episodes: episodes,
		Rekey:    rekey,
		Verifier: verifier,
		Registry: registry,
		Logf:     log.Printf,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("isaktivitetskrav listening on port %s (%s)", cfg.Port, cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}
}

// newProducer wires the outbound event path. Without a gateway URL the
// service still runs, it just logs events instead of delivering them. That
// keeps local development working without the full platform around it.
func newProducer(cfg config.Config) (*publish.Producer, error) {
	if cfg.External.BusGatewayURL == "" {
		log.Printf("WARN: BUS_GATEWAY_URL not set, events will be dropped")
		return publish.NewProducer(publish.DropBus{Logf: log.Printf}), nil
	}
	bus, err := publish.NewGatewayBus(cfg.External.BusGatewayURL, cfg.External.BusSecret)
	if err != nil {
		return nil, err
	}
	return publish.NewProducer(bus), nil
}

func newScheduler(
	cfg config.Config,
	caseStore *store.CaseStore,
	noticeStore *store.NoticeStore,
	service *assessment.Service,
	producer *publish.Producer,
	identityClient *identity.Client,
	registry *obs.Registry,
) (*scheduler.Scheduler, error) {
	rendererClient, err := renderer.NewClient(cfg.External.RendererBaseURL)
	if err != nil {
		return nil, fmt.Errorf("renderer client: %w", err)
	}
	archiveClient, err := archive.NewClient(cfg.External.ArchiveBaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}

	var leaderChecker scheduler.LeaderChecker = scheduler.AlwaysLeader{}
	if cfg.External.ElectorURL != "" {
		leaderClient, err := leader.NewClient(cfg.External.ElectorURL)
		if err != nil {
			return nil, fmt.Errorf("leader client: %w", err)
		}
		leaderChecker = leaderClient
	}

	sched := scheduler.New(leaderChecker,
		scheduler.WithSink(registry),
		scheduler.WithLogf(log.Printf),
		scheduler.WithRunTimeout(cfg.Jobs.RunTimeout),
	)

	builder := notice.NewBuilder(rendererClient)
	archival := archive.NewPipeline(
		archive.PipelineConfig{RetryDisabled: cfg.External.ArchiveRetryDisabled},
		noticeStore,
		identityClient,
		builder,
		archiveClient,
		archive.WithSink(registry),
		archive.WithLogf(log.Printf),
	)
	publication := publish.NewPipeline(noticeStore, producer,
		publish.WithSink(registry),
		publish.WithLogf(log.Printf),
	)
	expiry := publish.NewExpiryDetector(noticeStore, producer,
		publish.WithSink(registry),
		publish.WithLogf(log.Printf),
	)
	caseCloser := closer.NewPipeline(
		closer.Config{CutoffMonths: cfg.Jobs.CloserCutoffMonths, BatchLimit: cfg.Jobs.CloserBatchLimit},
		caseStore,
		service,
		closer.WithSink(registry),
		closer.WithLogf(log.Printf),
	)

	jobs := []struct {
		interval time.Duration
		job      scheduler.Job
	}{
		{cfg.Jobs.ArchivalInterval, archival},
		{cfg.Jobs.PublicationInterval, publication},
		{cfg.Jobs.ExpiryInterval, expiry},
		{cfg.Jobs.CloserInterval, caseCloser},
	}
	for _, j := range jobs {
		if err := sched.Register(fmt.Sprintf("@every %s", j.interval), j.job); err != nil {
			return nil, fmt.Errorf("register %s: %w", j.job.Name(), err)
		}
	}
	return sched, nil
}
