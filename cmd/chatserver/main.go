package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/bakaiti/server/internal/abuse"
	"github.com/bakaiti/server/internal/ban"
	"github.com/bakaiti/server/internal/chat"
	"github.com/bakaiti/server/internal/game"
	"github.com/bakaiti/server/internal/ghost"
	"github.com/bakaiti/server/internal/identity"
	"github.com/bakaiti/server/internal/matching"
	"github.com/bakaiti/server/internal/messaging"
	"github.com/bakaiti/server/internal/metrics"
	"github.com/bakaiti/server/internal/moderation"
	"github.com/bakaiti/server/internal/presence"
	"github.com/bakaiti/server/internal/ratelimit"
	"github.com/bakaiti/server/internal/report"
	"github.com/bakaiti/server/internal/responder"
	"github.com/bakaiti/server/internal/session"
	"github.com/bakaiti/server/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
	}
	pingCancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Identity ---
	var verifier identity.Verifier
	if endpoint := os.Getenv("AUTH_ENDPOINT"); endpoint != "" {
		verifier = identity.NewHTTPVerifier(endpoint, 5*time.Second)
	} else {
		log.Printf("AUTH_ENDPOINT not set, accepting self-declared identities")
		verifier = identity.StaticVerifier{}
	}

	// --- Postgres (abuse reports) ---
	var reports *report.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open Postgres: %v", err)
		}
		dbCtx, dbCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(dbCtx); err != nil {
			log.Fatalf("failed to reach Postgres: %v", err)
		}
		dbCancel()
		if err := report.Migrate(db); err != nil {
			log.Fatalf("report migrations: %v", err)
		}
		reports = report.NewStore(db)
	} else {
		log.Printf("POSTGRES_DSN not set, abuse reports are log-only")
	}

	// --- Core state ---
	pr := presence.NewRegistry(rdb)
	queue := matching.NewQueue(rdb, pr)
	sessions := session.NewManager(rdb)
	guard := abuse.NewGuard(rdb, abuse.DefaultConfig())
	limiter := ratelimit.NewLimiter(rdb)

	// --- Ghost partners ---
	ghostWait := ghost.DefaultWaitTimeout
	if v := os.Getenv("GHOST_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ghostWait = d
		}
	}
	resp := buildResponder()

	a := &app{
		nats:        natsClient,
		presence:    pr,
		queue:       queue,
		sessions:    sessions,
		guard:       guard,
		limiter:     limiter,
		vibes:       chat.NewVibeTracker(rdb),
		buffer:      chat.NewMessageBuffer(),
		wordbomb:    game.NewWordBomb(rdb),
		transcripts: ghost.NewTranscripts(),
		filter:      moderation.NewFilter(),
		bans:        ban.NewStore(rdb),
		reports:     reports,
	}
	a.ghosts = ghost.NewEngine(queue, sessions, a.transcripts, resp, a, ghostWait)

	dispatcher := ws.NewMessageDispatcher(nil)
	registerHandlers(dispatcher, a)

	server := ws.NewServer(config, verifier, pr, dispatcher.Dispatch)
	dispatcher.SetServer(server)
	a.server = server
	server.SetConnLimiter(limiter)
	server.SetOnConnect(a.onConnect)
	server.SetOnDisconnect(a.onDisconnect)

	// --- Background queue sweep ---
	sweepInterval := 30 * time.Second
	if v := os.Getenv("QUEUE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweepInterval = d
		}
	}
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go matching.NewCleaner(queue, sweepInterval).Run(sweepCtx)

	// --- Metrics ---
	metricsAddr := ":9090"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	log.Printf("Bakaiti chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  ghost_wait:      %s", ghostWait)
	log.Printf("  metrics_addr:    %s", metricsAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		sweepCancel()
		a.ghosts.Close()
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// buildResponder assembles the completion router from environment settings.
// With no backends configured every ghost reply comes from the canned pool,
// which keeps the feature alive in development.
func buildResponder() *responder.Responder {
	perAttempt := 8 * time.Second
	if v := os.Getenv("RESPONDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			perAttempt = d
		}
	}

	router := responder.NewRouter(perAttempt)
	configured := 0
	addBackend := func(tier, prefix string) {
		url := os.Getenv(prefix + "_URL")
		if url == "" {
			return
		}
		b := responder.NewHTTPBackend(
			strings.ToLower(tier),
			url,
			os.Getenv(prefix+"_API_KEY"),
			os.Getenv(prefix+"_MODEL"),
			perAttempt,
		)
		router.Add(tier, b)
		configured++
		log.Printf("[responder] %s backend at %s", tier, url)
	}
	addBackend(responder.TierSafe, "RESPONDER_SAFE")
	addBackend(responder.TierPermissive, "RESPONDER_PERMISSIVE")
	if configured == 0 {
		log.Printf("[responder] no backends configured, replies come from the canned pool")
	}
	return responder.New(router)
}
