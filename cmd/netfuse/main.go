package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"netfuse/internal/codec"
	"netfuse/internal/collector"
	"netfuse/internal/config"
	"netfuse/internal/domain"
	"netfuse/internal/handler"
	"netfuse/internal/hub"
	"netfuse/internal/parser"
	"netfuse/internal/repository/sqlite"
	"netfuse/internal/service"
	"netfuse/internal/watcher"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "netfuse",
		Usage: "Fuse ARP and routing table dumps into a network topology graph",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file path (default: search)"},
		},
		Commands: []*cli.Command{
			ingestCommand(),
			guessCommand(),
			graphCommand(),
			hostCommand(),
			conflictsCommand(),
			sweepCommand(),
			collectCommand(),
			serveCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Command) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		cfg, _, err := config.LoadFromPath(path)
		return cfg, err
	}
	cfg, _, err := config.Load()
	return cfg, err
}

func serviceOptions(cfg *config.Config) service.Options {
	return service.Options{
		StalenessWindow: cfg.Fusion.StalenessWindow.AsDuration(),
		SweepInterval:   cfg.Fusion.SweepInterval.AsDuration(),
		AdjacencyBase:   cfg.Fusion.AdjacencyConfidence,
		RouteBase:       cfg.Fusion.RouteConfidence,
		TxTimeout:       cfg.Ingest.TxTimeout.AsDuration(),
		RetryAttempts:   cfg.Ingest.RetryAttempts,
		RetryInterval:   cfg.Ingest.RetryInterval.AsDuration(),
		Aliases:         cfg.Aliases,
	}
}

// openService wires a store and service from config. The caller closes the
// returned store.
func openService(ctx context.Context, cfg *config.Config, bus *service.EventBus) (*service.Service, *sqlite.Store, error) {
	store, err := sqlite.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	svc, err := service.New(ctx, store, bus, serviceOptions(cfg))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

// readDump parses a dump file, guessing the format when hints are missing.
func readDump(path, dumpType, osName string) ([]domain.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if dumpType == "" || osName == "" {
		guessedType, guessedOS, err := parser.Guess(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w (use --type and --os)", path, err)
		}
		if dumpType == "" {
			dumpType = guessedType
		}
		if osName == "" {
			osName = guessedOS
		}
	}
	parse, ok := parser.Lookup(dumpType, osName)
	if !ok {
		return nil, fmt.Errorf("no parser for type %q on os %q (types: %v, os: %v)",
			dumpType, osName, parser.SupportedTypes(), parser.SupportedOS())
	}
	return parse(bytes.NewReader(data))
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printReport(report *domain.MergeReport) {
	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("batch %s from %s%s: %d accepted, %d rejected, took %s\n",
		report.BatchID, report.SourceHost, mode, report.Accepted, report.Rejected, report.Duration)
	for _, e := range report.Errors {
		fmt.Printf("  rejected: %s: %s\n", e.Reason, e.Line)
	}
	if len(report.NewHosts) > 0 {
		fmt.Printf("  new hosts: %d\n", len(report.NewHosts))
	}
	if len(report.NewInterfaces) > 0 {
		fmt.Printf("  new interfaces: %d\n", len(report.NewInterfaces))
	}
	if len(report.NewLinks) > 0 {
		fmt.Printf("  new links: %d\n", len(report.NewLinks))
	}
	for _, c := range report.Conflicts {
		fmt.Printf("  conflict: IP %s claimed by %d interfaces\n", c.IP, len(c.InterfaceIDs))
	}
	for _, m := range report.Merges {
		fmt.Printf("  merge: %s absorbed into %s (%s)\n", m.AbsorbedID, m.SurvivorID, m.Reason)
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest a dump file into the topology store",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Required: true, Usage: "host the dump was taken on"},
			&cli.StringFlag{Name: "type", Usage: "dump type (arp, route); guessed when omitted"},
			&cli.StringFlag{Name: "os", Usage: "dump OS dialect; guessed when omitted"},
			&cli.BoolFlag{Name: "force", Usage: "recreate the store before ingesting"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report without touching the store"},
			&cli.StringFlag{Name: "trust", Usage: "evidence trust level (normal, high)"},
			&cli.BoolFlag{Name: "json", Usage: "output the full report as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one dump file")
			}
			records, err := readDump(c.Args().First(), c.String("type"), c.String("os"))
			if err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, store, err := openService(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := domain.IngestOptions{
				ForceRecreate: c.Bool("force"),
				DryRun:        c.Bool("dry-run"),
			}
			if c.String("trust") == "high" {
				opts.Trust = domain.TrustHigh
			}

			report, err := svc.Ingest(ctx, c.String("source"), records, opts)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(report)
			}
			printReport(report)
			return nil
		},
	}
}

func guessCommand() *cli.Command {
	return &cli.Command{
		Name:      "guess",
		Usage:     "Identify the format of a dump file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one dump file")
			}
			f, err := os.Open(c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()
			dumpType, osName, err := parser.Guess(f)
			if err != nil {
				return err
			}
			fmt.Printf("type=%s os=%s\n", dumpType, osName)
			return nil
		},
	}
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Export a topology snapshot",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "include-stale", Usage: "keep stale links in the snapshot"},
			&cli.BoolFlag{Name: "include-merged", Usage: "keep absorbed hosts and placeholders"},
			&cli.FloatFlag{Name: "min-confidence", Usage: "drop links below this confidence"},
			&cli.StringFlag{Name: "format", Value: "json", Usage: "snapshot format (json, yaml)"},
			&cli.StringFlag{Name: "out", Usage: "output file (default stdout)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, store, err := openService(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			graph, err := svc.GetGraph(ctx, domain.GraphFilter{
				IncludeStale:  c.Bool("include-stale"),
				IncludeMerged: c.Bool("include-merged"),
				MinConfidence: c.Float("min-confidence"),
			})
			if err != nil {
				return err
			}

			exporter, err := codec.ForFormat(c.String("format"))
			if err != nil {
				return err
			}
			out := os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return exporter.Export(graph, out)
		},
	}
}

func hostCommand() *cli.Command {
	return &cli.Command{
		Name:      "host",
		Usage:     "Show one host with its interfaces and links",
		ArgsUsage: "<id-or-label>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("expected a host id or label")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, store, err := openService(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			view, err := svc.DescribeHost(ctx, c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(view)
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "List identity conflict annotations",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, store, err := openService(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			conflicts, err := svc.Conflicts(ctx)
			if err != nil {
				return err
			}
			return printJSON(conflicts)
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Demote links that outlived the staleness window",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, store, err := openService(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			demoted, err := svc.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d links demoted to stale\n", len(demoted))
			for _, id := range demoted {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}
}

func collectCommand() *cli.Command {
	return &cli.Command{
		Name:  "collect",
		Usage: "Gather evidence from a live source and ingest it",
		Commands: []*cli.Command{
			{
				Name:  "local",
				Usage: "Ingest this host's own procfs tables",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runCollector(ctx, c, collector.NewLocal(), domain.TrustHigh)
				},
			},
			{
				Name:  "nmap",
				Usage: "ARP-sweep configured targets and ingest the neighbors",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "target", Usage: "CIDR target (overrides config)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					targets := c.StringSlice("target")
					if len(targets) == 0 {
						targets = cfg.Collectors.Nmap.Targets
					}
					col := collector.NewNmap(targets, cfg.Collectors.Nmap.Timeout.AsDuration())
					return runCollector(ctx, c, col, domain.TrustNormal)
				},
			},
			{
				Name:  "ssh",
				Usage: "Fetch tables from configured remote hosts over SSH",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					ssh := cfg.Collectors.SSH
					col := collector.NewSSH(ssh.User, ssh.KeyFile, ssh.Hosts, ssh.Timeout.AsDuration())
					return runCollector(ctx, c, col, domain.TrustHigh)
				},
			},
		},
	}
}

// runCollector collects once and ingests the records grouped by the host
// that reported them.
func runCollector(ctx context.Context, c *cli.Command, col collector.Collector, trust domain.TrustLevel) error {
	records, err := col.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect %s: %w", col.Name(), err)
	}
	if len(records) == 0 {
		fmt.Printf("%s: nothing observed\n", col.Name())
		return nil
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, store, err := openService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, group := range groupBySource(records) {
		report, err := svc.Ingest(ctx, group.source, group.records, domain.IngestOptions{Trust: trust})
		if err != nil {
			return err
		}
		printReport(report)
	}
	return nil
}

type sourceGroup struct {
	source  string
	records []domain.RawRecord
}

// groupBySource splits a mixed collector batch into per-source ingest calls,
// preserving first-seen source order.
func groupBySource(records []domain.RawRecord) []sourceGroup {
	index := make(map[string]int)
	var groups []sourceGroup
	for _, rec := range records {
		i, ok := index[rec.SourceHost]
		if !ok {
			i = len(groups)
			index[rec.SourceHost] = i
			groups = append(groups, sourceGroup{source: rec.SourceHost})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, SSE feed, spool watcher and periodic jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (overrides config)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			addr := cfg.HTTP.Listen
			if v := c.String("addr"); v != "" {
				addr = v
			}
			return runServer(ctx, cfg, addr)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := service.NewEventBus()
	svc, store, err := openService(ctx, cfg, bus)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("Store opened: %s", cfg.Store.Path)

	// Bridge fusion events to connected SSE clients.
	sseHub := hub.New()
	go sseHub.Run()
	eventChan := make(chan service.Event, 100)
	bus.Subscribe(eventChan)
	go func() {
		for event := range eventChan {
			sseHub.Broadcast(event)
		}
	}()

	pool := service.NewPool(svc, cfg.Ingest.Workers, cfg.Ingest.Queue)
	pool.Start(ctx)
	defer pool.Stop()

	if cfg.HTTP.SpoolDir != "" {
		w := watcher.New(cfg.HTTP.SpoolDir, pool)
		go func() {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Spool watcher stopped: %v", err)
			}
		}()
	}

	go svc.RunSweeper(ctx)

	if len(cfg.Collectors.Nmap.Targets) > 0 {
		nmap := collector.NewNmap(cfg.Collectors.Nmap.Targets, cfg.Collectors.Nmap.Timeout.AsDuration())
		go runCollectorLoop(ctx, pool, nmap, cfg.Collectors.Nmap.Interval.AsDuration(), domain.TrustNormal)
	}
	if len(cfg.Collectors.SSH.Hosts) > 0 {
		ssh := cfg.Collectors.SSH
		probe := collector.NewSSH(ssh.User, ssh.KeyFile, ssh.Hosts, ssh.Timeout.AsDuration())
		go runCollectorLoop(ctx, pool, probe, ssh.Interval.AsDuration(), domain.TrustHigh)
	}

	api := handler.NewAPIHandler(svc)
	api.SetPool(pool)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/graph", api.GetGraph)
	mux.HandleFunc("GET /api/hosts/{id}", api.GetHost)
	mux.HandleFunc("GET /api/conflicts", api.GetConflicts)
	mux.HandleFunc("POST /api/dumps", api.PostDump)
	mux.Handle("GET /api/events", sseHub)
	mux.HandleFunc("GET /healthz", api.Healthz)

	server := &http.Server{
		Addr:    addr,
		Handler: handler.Chain(mux, handler.Recover, handler.CORS, handler.Logger),
		// No write timeout: /api/events streams for the client lifetime.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down server...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
	return nil
}

// runCollectorLoop reruns a collector on a fixed interval, feeding results
// through the ingest pool. The first run happens immediately.
func runCollectorLoop(ctx context.Context, pool *service.Pool, col collector.Collector, interval time.Duration, trust domain.TrustLevel) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		records, err := col.Collect(ctx)
		if err != nil {
			log.Printf("Collector %s failed: %v", col.Name(), err)
		}
		for _, group := range groupBySource(records) {
			job := service.IngestJob{
				SourceHost: group.source,
				Records:    group.records,
				Options:    domain.IngestOptions{Trust: trust},
			}
			if !pool.Submit(job) {
				log.Printf("Collector %s: ingest queue full, dropping batch from %s", col.Name(), group.source)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
