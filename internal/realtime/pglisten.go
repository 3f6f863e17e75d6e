package realtime

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel written by the task_records trigger.
const Channel = "task_changes"

// Publisher receives user ids whose records changed.
type Publisher interface {
	Publish(userID uuid.UUID)
}

// Listener bridges Postgres LISTEN/NOTIFY into a Publisher so that writes made by
// other server instances reach local watchers.
type Listener struct {
	pool    *pgxpool.Pool
	pub     Publisher
	log     *zap.Logger
	backoff time.Duration
}

// NewListener constructs a listener over pool.
func NewListener(pool *pgxpool.Pool, pub Publisher, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{pool: pool, pub: pub, log: log, backoff: time.Second}
}

// Run listens until ctx is done, reconnecting after connection errors.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("listen interrupted", zap.Error(err), zap.Duration("retry_in", l.backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	l.log.Info("listening", zap.String("channel", Channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(n)
	}
}

func (l *Listener) dispatch(n *pgconn.Notification) {
	if n == nil || n.Channel != Channel {
		return
	}
	id, err := uuid.FromString(n.Payload)
	if err != nil {
		l.log.Warn("bad notify payload", zap.String("payload", n.Payload), zap.Error(err))
		return
	}
	l.pub.Publish(id)
}
