package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/equalizer/internal/adapters/actions"
	httpadapter "github.com/PabloGalante/equalizer/internal/adapters/http"
	"github.com/PabloGalante/equalizer/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/equalizer/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/equalizer/internal/adapters/storage/memory"
	"github.com/PabloGalante/equalizer/internal/app/archive"
	"github.com/PabloGalante/equalizer/internal/app/escalation"
	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/config"
	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(config.New(path))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func loadCatalog(cfg *config.Config) (*escalation.Catalog, error) {
	if cfg.Escalation.PlaybooksFile != "" {
		return escalation.LoadCatalogFile(cfg.Escalation.PlaybooksFile, cfg.Escalation.DefaultType)
	}
	return escalation.DefaultCatalog(cfg.Escalation.DefaultType)
}

func serve(ctx context.Context, configPath string) error {
	v := config.New(configPath)
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	observability.Configure(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	log := observability.Logger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reasoner, genaiClient, err := newReasoner(ctx, cfg)
	if err != nil {
		return err
	}

	var transcriber domain.Transcriber = llm.NewMockTranscriber()
	if genaiClient != nil {
		transcriber = genaiClient
	}

	archiveStore, closeArchive, err := newArchiveStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("loading playbooks: %w", err)
	}

	deps, err := newActionDeps(ctx, cfg, genaiClient)
	if err != nil {
		return err
	}
	executors := actions.NewDefaultRegistry(actions.Settings{
		DemoMode:        cfg.Escalation.DemoMode,
		DemoDelay:       cfg.Escalation.DemoDelay,
		SenderEmail:     cfg.Escalation.SenderEmail,
		TestPhoneNumber: cfg.Escalation.TestPhoneNumber,
	}, deps)

	reg := registry.New(registry.Options{
		MaxSessions:     cfg.Registry.MaxSessions,
		IdleTimeout:     cfg.Registry.IdleTimeout,
		ReapInterval:    cfg.Registry.ReapInterval,
		ClosedRetention: cfg.Registry.ClosedRetention,
	})
	archiveSvc := archive.NewService(archiveStore)
	reg.OnClose(archiveSvc.Hook())

	negotiationSvc := negotiation.NewService(reg, reasoner, negotiation.Options{
		ReasoningTimeout:  cfg.Negotiation.ReasoningTimeout,
		QueueSize:         cfg.Negotiation.QueueSize,
		ObserverBuffer:    cfg.Negotiation.ObserverBuffer,
		LiveCards:         cfg.Negotiation.LiveCards,
		MinStatementChars: cfg.Negotiation.MinStatementChars,
		InitialScore:      cfg.Negotiation.InitialScore,
		ContextWindow:     cfg.Negotiation.ContextWindow,
	})
	escalationSvc := escalation.NewService(reg, catalog, executors, escalation.Options{
		ActionTimeout:    cfg.Escalation.ActionTimeout,
		StepPause:        cfg.Escalation.StepPause,
		SubscriberBuffer: cfg.Escalation.SubscriberBuf,
	})

	handler := httpadapter.NewServer(httpadapter.Deps{
		Registry:    reg,
		Negotiation: negotiationSvc,
		Escalation:  escalationSvc,
		Archive:     archiveSvc,
		Transcriber: transcriber,
	}, httpadapter.Options{
		PublicBaseURL:     cfg.Server.PublicBaseURL,
		AudioMIMEType:     cfg.LLM.AudioMIMEType,
		TranscribeTimeout: cfg.Negotiation.TranscribeTimeout,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("equalizer api listening",
			"addr", srv.Addr,
			"llm_provider", cfg.LLM.Provider,
			"archive_backend", cfg.Archive.Backend,
			"demo_mode", cfg.Escalation.DemoMode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return reg.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// sessions first so sockets and streams see their terminal messages
		reg.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	if v.ConfigFileUsed() != "" {
		config.Watch(v, func(next *config.Config) {
			observability.SetLevel(next.Log.Level)
			log.Info("config reloaded", "log_level", next.Log.Level)
		}, func(err error) {
			log.Warn("ignoring config change", "error", err)
		})
	}

	return g.Wait()
}

// newReasoner returns the counter-card reasoner. With a model backend the
// configured model is tried first, then the fallback model, then the keyword
// mock, so a room always gets a card.
func newReasoner(ctx context.Context, cfg *config.Config) (domain.ReasoningClient, *llm.GenAIClient, error) {
	if cfg.LLM.Provider == "mock" {
		observability.Logger().Info("using mock reasoner")
		return llm.NewMockReasoner(), nil, nil
	}

	client, err := llm.NewGenAIClient(ctx, llm.GenAIConfig{
		Backend:    cfg.LLM.Provider,
		Project:    cfg.LLM.GCPProjectID,
		Location:   cfg.LLM.GCPLocation,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.ModelName,
		VideoModel: cfg.LLM.VideoModel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing %s reasoner: %w", cfg.LLM.Provider, err)
	}

	chain := []llm.Named{{Name: client.Model(), Client: client}}
	if cfg.LLM.FallbackModel != "" && cfg.LLM.FallbackModel != client.Model() {
		fb := client.WithModel(cfg.LLM.FallbackModel)
		chain = append(chain, llm.Named{Name: fb.Model(), Client: fb})
	}
	chain = append(chain, llm.Named{Name: "mock", Client: llm.NewMockReasoner()})
	return llm.NewFallback(chain...), client, nil
}

func newArchiveStore(ctx context.Context, cfg *config.Config) (domain.ArchiveStore, func(), error) {
	noop := func() {}
	switch cfg.Archive.Backend {
	case "firestore":
		fs, err := firestorestore.NewStore(ctx, cfg.Archive.GCPProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("initializing firestore archive: %w", err)
		}
		return fs, func() { _ = fs.Close() }, nil
	case "memory":
		return memstore.NewArchiveStore(cfg.Archive.MaxRecords), noop, nil
	default:
		return nil, noop, nil
	}
}

// newActionDeps builds the live clients. In demo mode none are created and
// every executor simulates its call.
func newActionDeps(ctx context.Context, cfg *config.Config, genaiClient *llm.GenAIClient) (actions.Deps, error) {
	var deps actions.Deps
	if cfg.Escalation.DemoMode {
		return deps, nil
	}

	ses, sns, err := actions.NewAWSClients(ctx, cfg.AWS.Region)
	if err != nil {
		return deps, err
	}
	deps.Email = ses
	deps.SMS = sns
	if genaiClient != nil {
		deps.Writer = genaiClient
		if cfg.LLM.VideoModel != "" {
			deps.Video = genaiClient
		}
	}
	return deps, nil
}

func printPlaybooks(w io.Writer, catalog *escalation.Catalog) error {
	sample := domain.CaseFacts{
		HospitalName: "<hospital>",
		HospitalCity: "<city>",
		Procedure:    "<procedure>",
		PatientName:  "<patient>",
		PatientEmail: "<email>",
	}
	for _, t := range catalog.Types() {
		sample.EscalationType = t
		steps, err := catalog.Steps(sample)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%d steps)\n", t, len(steps))
		for i, s := range steps {
			fmt.Fprintf(w, "  %d. [%s] %s: %s\n", i+1, s.ActionKind, s.Name, s.Description)
		}
	}
	return nil
}
