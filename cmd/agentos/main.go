// AgentOS gateway server — registers the domain agents, runs the MCP API,
// the websocket event plane and the durable task worker.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentos-labs/agentos/pkg/agent"
	deliveryagent "github.com/agentos-labs/agentos/pkg/agents/delivery"
	llmagent "github.com/agentos-labs/agentos/pkg/agents/llm"
	peopleagent "github.com/agentos-labs/agentos/pkg/agents/people"
	salesagent "github.com/agentos-labs/agentos/pkg/agents/sales"
	"github.com/agentos-labs/agentos/pkg/api"
	"github.com/agentos-labs/agentos/pkg/audit"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/cache"
	"github.com/agentos-labs/agentos/pkg/cleanup"
	"github.com/agentos-labs/agentos/pkg/config"
	"github.com/agentos-labs/agentos/pkg/database"
	"github.com/agentos-labs/agentos/pkg/events"
	"github.com/agentos-labs/agentos/pkg/jobs"
	"github.com/agentos-labs/agentos/pkg/llm"
	"github.com/agentos-labs/agentos/pkg/masking"
	"github.com/agentos-labs/agentos/pkg/memory"
	deliverysvc "github.com/agentos-labs/agentos/pkg/services/delivery"
	peoplesvc "github.com/agentos-labs/agentos/pkg/services/people"
	productsvc "github.com/agentos-labs/agentos/pkg/services/products"
	salessvc "github.com/agentos-labs/agentos/pkg/services/sales"
	"github.com/agentos-labs/agentos/pkg/tasks"
	"github.com/agentos-labs/agentos/pkg/version"
)

func main() {
	envPath := flag.String("env", ".env", "Path to the .env file (ignored when absent)")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("Starting AgentOS",
		"version", version.Full(),
		"http_port", cfg.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Stores and broker.
	store, err := database.Connect(ctx, cfg.StoreURI, cfg.StoreName)
	if err != nil {
		slog.Error("Failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			slog.Error("Error closing document store", "error", err)
		}
	}()
	if err := store.EnsureIndexes(ctx); err != nil {
		slog.Error("Failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	cacheConn, err := cache.Connect(ctx, cfg.CacheURI)
	if err != nil {
		slog.Error("Failed to connect to cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cacheConn.Close(); err != nil {
			slog.Error("Error closing cache", "error", err)
		}
	}()

	broker, err := tasks.ConnectBroker(cfg.BrokerURI)
	if err != nil {
		slog.Error("Failed to connect to task broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("Error closing task broker", "error", err)
		}
	}()

	// Cross-cutting plumbing.
	sanitizer := masking.NewSanitizer()
	sink := audit.NewSink(store, sanitizer)
	publisher := events.NewPublisher(cacheConn.Client())
	sink.SetNotifier(publisher)
	dispatcher := tasks.NewDispatcher(broker)

	// Domain services.
	productRepo := productsvc.NewRepository(store)
	productService := productsvc.NewService(productRepo)
	peopleService := peoplesvc.NewService(peoplesvc.NewRepository(store))
	saleService := salessvc.NewService(
		salessvc.NewRepository(store, productRepo),
		productRepo, peopleService, publisher, dispatcher, sink,
		salessvc.Config{
			DefaultCurrency:      cfg.DefaultCurrency,
			DuplicateWindow:      cfg.DuplicateSaleWindow,
			AllocationMaxRetries: cfg.StockAllocationMaxRetries,
		})
	deliveryService := deliverysvc.NewService(
		deliverysvc.NewRepository(store), publisher, cfg.DeliveryRetentionDays)
	memoryService := memory.NewService(store, cacheConn.Client(), cfg.MemoryMaxHistory, cfg.MemoryTTL)

	// Agent registry.
	registry := agent.NewRegistry()
	oracle := llm.NewHTTPOracle(cfg.OracleURL, cfg.OracleAPIKey, cfg.OracleModel, cfg.OracleTimeout)
	executor := llm.NewExecutor(oracle)
	registerExecActions(executor, registry)

	for _, a := range []agent.Agent{
		salesagent.New(saleService, productService),
		peopleagent.New(peopleService),
		deliveryagent.New(deliveryService, memoryService, publisher),
		llmagent.New(executor),
	} {
		if err := registry.Register(a); err != nil {
			slog.Error("Failed to register agent", "error", err)
			os.Exit(1)
		}
	}

	// Task worker.
	worker := tasks.NewWorker(broker, tasks.DefaultRetryPolicy, 4)
	jobs.NewHandlers(saleService, deliveryService, dispatcher).Register(worker)
	if err := worker.Start(ctx); err != nil {
		slog.Error("Failed to start task worker", "error", err)
		os.Exit(1)
	}
	defer worker.Stop()

	// Event broadcaster: cache pub/sub to local websocket connections.
	manager := events.NewConnectionManager(10 * time.Second)
	broadcaster := events.NewBroadcaster(cacheConn.Client(), manager,
		cfg.ListenPatterns, cfg.ReconnectInitial, cfg.ReconnectMax)
	broadcaster.Start(ctx)
	defer broadcaster.Stop()

	// Retention sweep.
	sweep := cleanup.NewService(cfg.CleanupInterval, deliveryService)
	sweep.Start(ctx)
	defer sweep.Stop()

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Registry: registry,
		Manager:  manager,
		Verifier: auth.NewVerifier(cfg.SecretKey),
		Health: map[string]api.HealthChecker{
			"database": store.Health,
			"cache":    cacheConn.Health,
			"broker":   func(context.Context) error { return broker.Health() },
		},
	})

	slog.Info("AgentOS started", "agents", registry.Agents())

	if err := server.Start(ctx); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// registerExecActions populates the semantic executor's dispatch table.
// Every entry funnels through the agent registry so schema validation and
// role checks apply to interpreted actions exactly as to direct calls.
func registerExecActions(executor *llm.Executor, registry *agent.Registry) {
	register := func(service, action string, allowed ...string) {
		// Interpretations name bare services; registered agents carry the
		// agentos_ prefix.
		agentName := "agentos_" + service
		set := make(map[string]bool, len(allowed))
		for _, name := range allowed {
			set[name] = true
		}
		executor.RegisterHandler(service, action, llm.ExecHandler{
			AllowedParams: set,
			Run: func(ctx context.Context, params map[string]any) (any, error) {
				return registry.Execute(ctx, agentName, action, params)
			},
		})
	}

	register("sales", "create_sale", "client_id", "items", "currency", "delivery_address", "idempotency_key")
	register("sales", "get_sale_status", "sale_id")
	register("sales", "list_recent_sales", "client_id", "limit")
	register("delivery", "get_delivery", "delivery_id")
	register("delivery", "update_status", "delivery_id", "status", "description")
	register("people", "get_profile", "identifier")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
