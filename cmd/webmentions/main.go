package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"webmentions/config"
	"webmentions/internal/breaker"
	"webmentions/internal/httpwrap"
	"webmentions/internal/metrics"
	"webmentions/internal/orchestrator"
	"webmentions/internal/ssrfguard"
	"webmentions/internal/store"
)

func main() {
	site := flag.String("site", "", "scan a site's feed and report outbound article links, without saving anything")
	page := flag.String("page", "", "check a single article page's outbound links for mention capabilities")
	register := flag.String("register", "", "discover and save a feed task for a site")
	daemon := flag.Bool("daemon", false, "run forever, draining the pipeline on a schedule instead of once")
	interval := flag.String("interval", "", "drain schedule in cron.v3 syntax, overriding DRAIN_INTERVAL (daemon mode only)")
	real := flag.Bool("real", false, "actually send mentions instead of just reporting what would be sent")
	verbose := flag.Bool("v", false, "add microsecond timestamps to log lines (does not change which messages are logged)")
	flag.Parse()

	modes := 0
	for _, s := range []string{*site, *page, *register} {
		if s != "" {
			modes++
		}
	}
	if *daemon {
		modes++
	}
	if modes > 1 {
		log.Fatal("at most one of --site, --page, --register, --daemon may be given")
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.ConnectionString())
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer st.Close()

	m := metrics.New()
	guard := &ssrfguard.Guard{Force: cfg.Security.AllowPrivateNetworks, OnBlocked: m.RecordSSRFBlocked}
	client := httpwrap.NewClient(guard, cfg.HTTP.UserAgent, cfg.HTTP.Timeout)

	orch := &orchestrator.Orchestrator{
		Store:    st,
		Client:   client,
		Breakers: breaker.NewManager(5, 30*time.Second),
		Metrics:  m,
		Dry:      !*real,
		Concurrency: orchestrator.Capacities{
			Feed:         cfg.Performance.FeedQueueCapacity,
			Article:      cfg.Performance.ArticleQueueCapacity,
			Notification: cfg.Performance.NotificationQueueCapacity,
		},
	}

	switch {
	case *site != "":
		if err := orch.Site(ctx, *site); err != nil {
			log.Fatalf("site scan failed: %v", err)
		}
	case *page != "":
		if err := orch.Page(ctx, *page); err != nil {
			log.Fatalf("page check failed: %v", err)
		}
	case *register != "":
		if err := orch.Register(ctx, *register); err != nil {
			log.Fatalf("register failed: %v", err)
		}
		log.Printf("registered feed task for %s", *register)
	case *daemon:
		runDaemon(ctx, cfg, m, orch, *interval)
	default:
		if err := orch.Drain(ctx); err != nil {
			log.Fatalf("drain failed: %v", err)
		}
	}
}

// runDaemon starts the /healthz+/metrics HTTP surface and a cron schedule
// that drains the pipeline, running until SIGINT/SIGTERM.
func runDaemon(ctx context.Context, cfg *config.Config, m *metrics.Metrics, orch *orchestrator.Orchestrator, cronOverride string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle(cfg.Prometheus.MetricsPath, m.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.DaemonPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("daemon: http server stopped: %v", err)
		}
	}()

	schedule := cronOverride
	if schedule == "" {
		schedule = fmt.Sprintf("@every %s", cfg.App.DrainInterval)
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := orch.Drain(ctx); err != nil {
			log.Printf("daemon: drain failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("daemon: invalid drain schedule %q: %v", schedule, err)
	}
	c.Start()
	log.Printf("daemon: listening on %s, draining on schedule %q", srv.Addr, schedule)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("daemon: shutdown signal received")

	stopCtx := c.Stop()
	<-stopCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("daemon: http server shutdown: %v", err)
	}
}
