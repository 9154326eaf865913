// Command flowkeeper records crawled page flows and serves journey, path and
// healing queries over HTTP and MCP.
//
// Usage:
//
//	flowkeeper -config flowkeeper.yaml            # daemon with config file
//	flowkeeper -db flowkeeper.db -listen :8087    # daemon with defaults
//	flowkeeper -db flowkeeper.db -ingest crawl.json  # record pages and exit
//	flowkeeper -db flowkeeper.db -journeys        # print critical journeys and exit
//	flowkeeper -db flowkeeper.db -stats           # show stats and exit
//	flowkeeper -db flowkeeper.db -mcp-quic :9444  # also serve MCP over QUIC
//	flowkeeper -dial host:9444 -insecure          # list a remote keeper's tools
//	flowkeeper -dial host:9444 -tool flowkeeper_find_paths -args '{"from":"login","to":"settings"}'
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/flowkeeper/flowkeeper"
	"github.com/hazyhaar/flowkeeper/mcpquic"
)

type options struct {
	configPath string
	dbPath     string
	listen     string
	ingestPath string
	journeys   bool
	stats      bool
	mcpQUIC    string
	tlsCert    string
	tlsKey     string
	dial       string
	tool       string
	args       string
	insecure   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to flowkeeper.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "path to SQLite snapshot database")
	flag.StringVar(&o.listen, "listen", "", "HTTP listen address (overrides config)")
	flag.StringVar(&o.ingestPath, "ingest", "", "JSON file of crawled pages to record (exit after)")
	flag.BoolVar(&o.journeys, "journeys", false, "print critical journeys and exit")
	flag.BoolVar(&o.stats, "stats", false, "show stats and exit")
	flag.StringVar(&o.mcpQUIC, "mcp-quic", "", "MCP over QUIC listen address (disabled when empty)")
	flag.StringVar(&o.tlsCert, "tls-cert", "", "TLS certificate for -mcp-quic (self-signed when empty)")
	flag.StringVar(&o.tlsKey, "tls-key", "", "TLS key for -mcp-quic")
	flag.StringVar(&o.dial, "dial", "", "MCP-over-QUIC address of a running keeper (client mode, exit after)")
	flag.StringVar(&o.tool, "tool", "", "tool to call with -dial (lists tools when empty)")
	flag.StringVar(&o.args, "args", "{}", "JSON arguments for -tool")
	flag.BoolVar(&o.insecure, "insecure", false, "skip server certificate verification with -dial")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("flowkeeper: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	// One-shot: remote call.
	if o.dial != "" {
		return remote(ctx, o)
	}

	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}

	k, err := flowkeeper.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer k.Close()

	// One-shot: ingest.
	if o.ingestPath != "" {
		return ingest(ctx, k, o.ingestPath)
	}

	// One-shot: journeys.
	if o.journeys {
		return printJSON(k.CriticalJourneys())
	}

	// One-shot: stats.
	if o.stats {
		st, err := k.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(st)
	}

	// Daemon mode.
	return serve(ctx, logger, k, cfg, o)
}

func serve(ctx context.Context, logger *slog.Logger, k *flowkeeper.Keeper, cfg *flowkeeper.Config, o options) error {
	k.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           k.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("flowkeeper: http listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if o.mcpQUIC != "" {
		l, err := quicListener(logger, k, o)
		if err != nil {
			return err
		}
		defer l.Close()
		g.Go(func() error {
			if err := l.Serve(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp quic: %w", err)
			}
			return nil
		})
	}

	logger.Info("flowkeeper: running", "db", cfg.DBPath)
	err := g.Wait()
	logger.Info("flowkeeper: shutting down")
	return err
}

func quicListener(logger *slog.Logger, k *flowkeeper.Keeper, o options) (*mcpquic.Listener, error) {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if o.tlsCert != "" && o.tlsKey != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(o.tlsCert, o.tlsKey)
	} else {
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("mcp quic tls: %w", err)
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "flowkeeper", Version: "1.0.0"}, nil)
	k.RegisterMCP(mcpSrv)
	return mcpquic.NewListener(o.mcpQUIC, tlsCfg, mcpSrv, logger)
}

func remote(ctx context.Context, o options) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	c, err := mcpquic.Dial(ctx, o.dial, mcpquic.WithClientTLS(mcpquic.ClientTLSConfig(o.insecure)))
	if err != nil {
		return err
	}
	defer c.Close()

	if o.tool == "" {
		tools, err := c.Tools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		type toolInfo struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		out := make([]toolInfo, len(tools))
		for i, t := range tools {
			out[i] = toolInfo{Name: t.Name, Description: t.Description}
		}
		return printJSON(out)
	}

	if !json.Valid([]byte(o.args)) {
		return fmt.Errorf("-args is not valid JSON: %s", o.args)
	}
	var result json.RawMessage
	if err := c.Call(ctx, o.tool, json.RawMessage(o.args), &result); err != nil {
		return err
	}
	return printJSON(result)
}

func ingest(ctx context.Context, k *flowkeeper.Keeper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pages []flowkeeper.CrawledPage
	if err := json.Unmarshal(data, &pages); err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	results, err := k.RecordPages(ctx, pages)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if _, err := k.SaveSnapshot(ctx); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return printJSON(results)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveConfig(o options) (*flowkeeper.Config, error) {
	cfg := &flowkeeper.Config{}
	if o.configPath != "" {
		var err error
		if cfg, err = flowkeeper.LoadConfigFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.listen != "" {
		cfg.ListenAddr = o.listen
	}

	if o.configPath == "" && cfg.DBPath == "" {
		fmt.Fprintln(os.Stderr, "usage: flowkeeper -config <file> | -db <path> [-listen <addr>] [-ingest <file>] [-journeys] [-stats] [-mcp-quic <addr>]")
		os.Exit(1)
	}
	return cfg, nil
}
