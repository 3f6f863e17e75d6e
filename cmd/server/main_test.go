package main

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/todo-keeper/internal/api"
	"github.com/and161185/todo-keeper/internal/config"
)

type countingPurger struct{ n atomic.Int32 }

func (c *countingPurger) PurgeSessions(context.Context) (int64, error) {
	c.n.Add(1)
	return 1, nil
}

func TestPurgeSessions_TicksUntilCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingPurger{}
	done := make(chan error, 1)
	go func() { done <- purgeSessions(ctx, p, 10*time.Millisecond, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool { return p.n.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun_MemoryDevServesHealth(t *testing.T) {
	t.Parallel()
	cfg := config.Server{
		Addr:      freeAddr(t),
		Storage:   config.StorageMemory,
		JWTKey:    "k",
		AccessTTL: time.Hour,
		Dev:       true,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t)) }()

	cc, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer cc.Close()

	hc := healthpb.NewHealthClient(cc)
	require.Eventually(t, func() bool {
		cctx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		resp, err := hc.Check(cctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}
