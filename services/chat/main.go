package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sobun/chat/internal/auth"
	"github.com/sobun/chat/internal/broker"
	"github.com/sobun/chat/internal/config"
	"github.com/sobun/chat/internal/handler"
	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/messagelog"
	"github.com/sobun/chat/internal/middleware"
	"github.com/sobun/chat/internal/model"
	"github.com/sobun/chat/internal/presence"
	"github.com/sobun/chat/internal/repository"
	"github.com/sobun/chat/internal/scheduler"
	"github.com/sobun/chat/internal/service"
	"github.com/sobun/chat/internal/startup"
	"github.com/sobun/chat/internal/ws"
	"github.com/sobun/chat/migrations"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	mongoCli := startup.ConnectMongoWithRetry(cfg.Mongo.URI, 60*time.Second)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoCli.Disconnect(ctx); err != nil {
			logger.Errorf("mongo disconnect: %v", err)
		}
	}()

	msgStore := messagelog.NewStore(mongoCli.Database(cfg.Mongo.Database))
	idxCtx, idxCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := msgStore.EnsureIndexes(idxCtx); err != nil {
		logger.Errorf("message log indexes: %v", err)
		os.Exit(1)
	}
	idxCancel()

	redisCli := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
	defer redisCli.Close()
	logger.Info("message log and broker connected")

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	invRepo := repository.NewInvitationRepository(pool)

	// The broker delivers into the hub and the hub subscribes through the
	// broker; break the cycle with a late-bound hub reference.
	var hub *ws.Hub
	brk := broker.New(redisCli, func(roomID string, m *model.Message) {
		hub.Deliver(roomID, m)
	})

	msgSvc := service.NewMessageService(msgStore, roomRepo, brk)
	roomSvc := service.NewRoomService(roomRepo, userRepo, invRepo, msgStore, cfg.GracePeriod())
	roomSvc.SetAnnouncer(msgSvc)

	tracker := presence.NewTracker()
	hub = ws.NewHub(roomSvc, msgSvc, streamAdapter{brk}, tracker, cfg.MaxWSConnections)

	brokerCtx, brokerCancel := context.WithCancel(context.Background())
	brk.Start(brokerCtx)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	reaper := scheduler.NewReaper(roomRepo, msgStore, cfg.ReaperHour)
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	var reaperWg sync.WaitGroup
	reaperWg.Add(1)
	go func() {
		defer reaperWg.Done()
		reaper.Run(reaperCtx)
	}()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	roomH := handler.NewRoomHandler(roomSvc)
	msgH := handler.NewMessageHandler(msgSvc)
	wsH := handler.NewWSHandler(hub, verifier, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Do not compress WebSocket traffic: the wrapped ResponseWriter would
	// lose http.Hijacker and the upgrade would 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	// The WebSocket handshake is fail-open: it resolves the token itself
	// and accepts anonymous connections.
	r.Get("/ws", wsH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(verifier))
		r.Post("/api/rooms", roomH.Create)
		r.Get("/api/rooms", roomH.List)
		r.Get("/api/rooms/{roomID}", roomH.Detail)
		r.Post("/api/rooms/{roomID}/close", roomH.Close)
		r.Post("/api/rooms/{roomID}/leave", roomH.Leave)
		r.Post("/api/rooms/{roomID}/invitations", roomH.Invite)
		r.Get("/api/rooms/{roomID}/messages", msgH.Recent)
		r.Post("/api/invitations/{invitationID}/accept", roomH.Accept)
		r.Post("/api/invitations/{invitationID}/reject", roomH.Reject)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")

	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")

	brk.Close()
	brokerCancel()
	logger.Info("broker stopped")

	reaperCancel()
	reaperWg.Wait()
	logger.Info("reaper stopped")

	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// streamAdapter narrows the broker to the hub's per-room subscription
// interface.
type streamAdapter struct {
	b *broker.Broker
}

func (s streamAdapter) Acquire(roomID string) error {
	return s.b.Acquire(context.Background(), roomID)
}

func (s streamAdapter) Release(roomID string) {
	s.b.Release(context.Background(), roomID)
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chat"
		password = "chat_secret"
		database = "chat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
