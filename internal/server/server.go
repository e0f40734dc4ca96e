// Package server orchestrates all components: NATS client, DB, rendezvous
// store, resilience group, coordinator, dispatcher, HTTP observability.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/controlplane-coordinator/internal/config"
	"github.com/morezero/controlplane-coordinator/pkg/bridge"
	"github.com/morezero/controlplane-coordinator/pkg/commsutil"
	"github.com/morezero/controlplane-coordinator/pkg/dispatcher"
	"github.com/morezero/controlplane-coordinator/pkg/events"
	"github.com/morezero/controlplane-coordinator/pkg/registration"
	"github.com/morezero/controlplane-coordinator/pkg/rendezvous"
	"github.com/morezero/controlplane-coordinator/pkg/resilience"
	"github.com/morezero/controlplane-coordinator/pkg/store"
)

const logPrefix = "server:server"

// coordinatorForServer is the slice of the coordinator the HTTP surface
// needs.
type coordinatorForServer interface {
	Health(ctx context.Context) *registration.HealthOutput
}

// Server is the coordinator orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	httpServer *http.Server
	coord      coordinatorForServer
	group      *resilience.Group
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	// Setup structured logging
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting controlplane-coordinator", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Determine coordinator subject
	coordinatorSubject := cfg.CoordinatorSubject
	if coordinatorSubject == "" {
		coordinatorSubject = commsutil.SubjectCoordinator
	}
	slog.Info(fmt.Sprintf("%s - Coordinator subject: %s", logPrefix, coordinatorSubject))

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", logPrefix, cfg.COMMSURL))

	// Step 2: Connect to database
	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	// Step 2b: Run migrations if enabled
	if cfg.RunMigrations {
		migrationSQL, err := store.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := store.RunMigrations(ctx, pool, migrationSQL); err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	// Step 3: Rendezvous store for the bridge. Redis shares the correlation
	// id space across coordinator replicas; without it replies only reach the
	// process that sent the request.
	var rv rendezvous.Store
	if cfg.RedisURL != "" {
		rv, err = rendezvous.NewRedisStore(ctx, cfg.RedisURL, "coordinator")
		if err != nil {
			pool.Close()
			nc.Close()
			return fmt.Errorf("%s - failed to connect to redis: %w", logPrefix, err)
		}
		slog.Info(fmt.Sprintf("%s - Rendezvous store: redis", logPrefix))
	} else {
		rv = rendezvous.NewMemoryStore(nil)
		slog.Info(fmt.Sprintf("%s - Rendezvous store: in-memory (single instance only)", logPrefix))
	}

	// Step 4: Resilience group with Prometheus instrumentation
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	group := resilience.NewGroup(resilience.GroupOptions{Registerer: promReg})
	dbExec := group.Add("postgres", cfg.DBExecutorConfig())
	workerExec := group.Add("worker-rpc", cfg.WorkerExecutorConfig())
	s.group = group

	// Step 5: Correlation RPC bridge
	br := bridge.New(nc, rv, bridge.Options{
		PollInterval: cfg.BridgePoll,
		Grace:        cfg.BridgeGrace,
		ResponseTTL:  cfg.ResponseTTL,
		Registerer:   promReg,
	})
	replySub, err := br.Subscribe(nc)
	if err != nil {
		rv.Close()
		pool.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe reply channel: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Reply channel: %s", logPrefix, br.ReplyChannel()))
	br.StartSweeper(ctx, cfg.BridgeSweep)

	// Step 6: Create coordinator
	repo := store.NewRepository(pool)
	publisherOpts := &events.CommsPublisherOpts{}
	if cfg.ChangeEventSubject != "" {
		publisherOpts.GlobalChangeSubject = cfg.ChangeEventSubject
	}
	publisher := events.NewCommsPublisher(nc, publisherOpts)
	coord := registration.NewCoordinator(registration.NewCoordinatorParams{
		Repo:           repo,
		Publisher:      publisher,
		Bridge:         br,
		DBExecutor:     dbExec,
		WorkerExecutor: workerExec,
		Config: registration.Config{
			HeartbeatTTLSeconds:  int(cfg.HeartbeatTTL.Seconds()),
			DefaultEnv:           cfg.DefaultEnv,
			WorkerTimeoutSeconds: int(cfg.WorkerTimeout.Seconds()),
		},
	})
	s.coord = coord

	// Step 6b: Lease expiry loop. Instances that miss their heartbeat window
	// flip to expired so resolution stops handing them out.
	go s.runExpiryLoop(ctx, repo)

	// Step 7: Create dispatcher and subscribe
	disp := dispatcher.NewDispatcher(coord)

	requestTimeout := cfg.RequestTimeout
	sub, err := nc.Subscribe(coordinatorSubject, func(msg *comms.Msg) {
		var req dispatcher.CoordinatorRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			resp := &dispatcher.CoordinatorResponse{
				Ok: false,
				Error: &dispatcher.ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: "Failed to decode request",
				},
			}
			data, _ := json.Marshal(resp)
			msg.Respond(data)
			return
		}

		// Per-request context bounded by the server's ceiling. A tighter
		// caller deadline inside req.Ctx narrows it further in Dispatch.
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		// A deadline may also arrive as a message header.
		if req.Ctx == nil {
			if hv := msg.Header.Get(commsutil.HeaderDeadline); hv != "" {
				req.Ctx = &dispatcher.InvocationContext{Deadline: hv}
			}
		} else if req.Ctx.Deadline == "" {
			req.Ctx.Deadline = msg.Header.Get(commsutil.HeaderDeadline)
		}

		resp := disp.Dispatch(reqCtx, &req)

		data, err := json.Marshal(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
			return
		}
		msg.Respond(data)
	})
	if err != nil {
		replySub.Unsubscribe()
		rv.Close()
		pool.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, coordinatorSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, coordinatorSubject))

	// Step 8: Start HTTP observability server
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", s.handleReady())
	mux.HandleFunc("/resilience", s.handleResilience())
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Coordinator is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	sub.Unsubscribe()
	replySub.Unsubscribe()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)
	cancel()
	nc.Drain()
	rv.Close()
	pool.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// handleHealth reports coordinator health. Degrades to 503 when the database
// check fails or any critical dependency's circuit is open.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.coord.Health(ctx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" || (s.group != nil && !s.group.Healthy()) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// handleReady reports process liveness.
func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// handleResilience exposes the per-dependency pipeline snapshot.
func (s *Server) handleResilience() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"healthy":      s.group.Healthy(),
			"dependencies": s.group.Snapshot(),
		})
	}
}

// runExpiryLoop flips instances whose lease elapsed to expired status at a
// fixed cadence until ctx is done.
func (s *Server) runExpiryLoop(ctx context.Context, repo *store.Repository) {
	interval := s.cfg.ExpireSweep
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.ExpireInstances(ctx)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - expire sweep failed: %v", logPrefix, err))
				continue
			}
			if n > 0 {
				slog.Info(fmt.Sprintf("%s - expired %d instance lease(s)", logPrefix, n))
			}
		}
	}
}
