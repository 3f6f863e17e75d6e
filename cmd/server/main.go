// Command todo-server serves authentication and per-user task storage over gRPC.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/todo-keeper/internal/admin"
	"github.com/and161185/todo-keeper/internal/api"
	"github.com/and161185/todo-keeper/internal/config"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/migrate"
	"github.com/and161185/todo-keeper/internal/realtime"
	"github.com/and161185/todo-keeper/internal/repository"
	"github.com/and161185/todo-keeper/internal/repository/memory"
	"github.com/and161185/todo-keeper/internal/repository/postgres"
	grpcserver "github.com/and161185/todo-keeper/internal/server/grpc"
	"github.com/and161185/todo-keeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:          "todo-server",
		Short:        "Serve accounts and realtime task lists over gRPC",
		Version:      fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Dev)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("server stopped", zap.Error(err))
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file")
	config.RegisterServerFlags(cmd.Flags())
	return cmd
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// storage bundles the repositories of one backend kind.
type storage struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tasks    repository.TaskRepository
	lim      limiter.Limiter
	ping     admin.Pinger
	pool     *pgxpool.Pool
	close    func()
}

func openStorage(ctx context.Context, cfg config.Server, log *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("memory storage: data is lost on exit and login attempts are not limited")
		return &storage{
			users:    memory.NewUserRepo(),
			sessions: memory.NewSessionRepo(),
			tasks:    memory.NewTaskRepo(),
			lim:      limiter.Nop{},
			ping:     memory.Ping,
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN, log); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, pool, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &storage{
		users:    postgres.NewUserRepo(db),
		sessions: postgres.NewSessionRepo(db),
		tasks:    postgres.NewTaskRepo(db),
		lim:      limiter.NewPG(pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor),
		ping:     db.Ping,
		pool:     pool,
		close:    db.Close,
	}, nil
}

// run wires storage, services and listeners and blocks until ctx is done or a listener fails.
func run(ctx context.Context, cfg config.Server, log *zap.Logger) error {
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	hub := realtime.NewHub()
	authSvc := service.NewAuthService(st.users, st.sessions, []byte(cfg.JWTKey), cfg.AccessTTL, st.lim)
	recordSvc := service.NewRecordService(st.tasks, hub, hub)

	var opts []grpc.ServerOption
	if cfg.Dev {
		log.Warn("dev mode: plaintext gRPC with reflection")
	} else {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s := grpcserver.NewGRPCServer(log, authSvc, recordSvc, opts...)

	hs := health.NewServer()
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", !cfg.Dev))
		return s.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		gracefulStop(s, 5*time.Second)
		return nil
	})
	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.NewRouter(log.Named("admin"), map[string]admin.Pinger{"storage": st.ping}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return admin.Serve(gctx, srv) })
	}
	if cfg.PGNotify && st.pool != nil {
		l := realtime.NewListener(st.pool, hub, log.Named("pglisten"))
		g.Go(func() error { return l.Run(gctx) })
	}
	if cfg.SessionPurge > 0 {
		g.Go(func() error { return purgeSessions(gctx, authSvc, cfg.SessionPurge, log) })
	}
	return g.Wait()
}

func gracefulStop(s *grpc.Server, wait time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		s.Stop()
	}
}

type sessionPurger interface {
	PurgeSessions(ctx context.Context) (int64, error)
}

// purgeSessions deletes expired sessions every interval until ctx is done.
func purgeSessions(ctx context.Context, p sessionPurger, every time.Duration, log *zap.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := p.PurgeSessions(ctx)
			if err != nil {
				log.Warn("purge sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
