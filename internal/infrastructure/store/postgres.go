package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/optical-storefront/internal/logger"
	"github.com/lib/pq"
)

const credentialsSchema = `CREATE TABLE IF NOT EXISTS storefront_credentials (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DefaultNotifyChannel is the LISTEN/NOTIFY channel for token changes
const DefaultNotifyChannel = "storefront_credentials_changed"

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// PostgresBackend stores credentials in the storefront_credentials table
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate creates the credentials table if needed
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, credentialsSchema); err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT data FROM storefront_credentials WHERE key = $1",
		key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *PostgresBackend) Save(ctx context.Context, key string, data []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO storefront_credentials (key, data, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		key, data,
	)
	return err
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM storefront_credentials WHERE key = $1", key)
	return err
}

// PostgresNotifier announces changes with pg_notify and receives them on a
// dedicated pq.Listener connection.
type PostgresNotifier struct {
	db      *sql.DB
	connStr string
	channel string

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
	subs     map[int]func(Change)
	nextID   int
}

func NewPostgresNotifier(db *sql.DB, connStr, channel string) *PostgresNotifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &PostgresNotifier{
		db:      db,
		connStr: connStr,
		channel: channel,
		subs:    make(map[int]func(Change)),
	}
}

func (n *PostgresNotifier) Publish(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel, string(payload))
	return err
}

// Subscribe starts the shared listener on first use
func (n *PostgresNotifier) Subscribe(fn func(Change)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener == nil {
		listener := pq.NewListener(n.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("[PostgresNotifier] listener event", "event", int(ev), "error", err)
			}
		})
		if err := listener.Listen(n.channel); err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", n.channel, err)
		}
		n.listener = listener
		n.done = make(chan struct{})
		go n.loop(listener, n.done)
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
		if len(n.subs) == 0 && n.listener != nil {
			close(n.done)
			n.listener.Close()
			n.listener = nil
		}
	}, nil
}

func (n *PostgresNotifier) loop(listener *pq.Listener, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case notification, ok := <-listener.Notify:
			if !ok {
				return
			}
			var c Change
			if notification == nil {
				// Reconnected, notifications may have been missed
				c = Change{}
			} else if err := json.Unmarshal([]byte(notification.Extra), &c); err != nil {
				logger.Warn("[PostgresNotifier] invalid payload", "error", err)
				continue
			}
			n.deliver(c)
		case <-time.After(90 * time.Second):
			go listener.Ping()
		}
	}
}

func (n *PostgresNotifier) deliver(c Change) {
	n.mu.Lock()
	subs := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}
