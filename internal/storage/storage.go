package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Storage is the delivery journal. Scheduled posts and dialogues stay in
// memory; only the outcome of each delivery attempt is written here.
type Storage struct {
	db  *sql.DB
	log logrus.FieldLogger
}

type Delivery struct {
	ID           int64
	OwnerID      int64
	OriginChatID int64
	Destination  string
	ContentType  string
	Summary      string
	Status       string
	Error        string
	DeliveredAt  time.Time
}

func (d Delivery) Succeeded() bool {
	return d.Status == "delivered"
}

func NewStorage(dbPath string, log logrus.FieldLogger) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	s := &Storage{db: db, log: log.WithField("component", "storage")}
	if err = s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize database schema: %w", err)
	}
	s.log.Info("Database connection successful and schema initialized.")
	return s, nil
}

func (s *Storage) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			origin_chat_id INTEGER NOT NULL,
			destination TEXT NOT NULL,
			content_type TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			delivered_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_owner ON deliveries (owner_id, delivered_at);`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("schema execution failed for query '%s': %w", query, err)
			}
		}
	}
	return nil
}

func (s *Storage) RecordDelivery(ctx context.Context, d Delivery) error {
	query := `INSERT INTO deliveries (
		owner_id, origin_chat_id, destination, content_type, summary, status, error, delivered_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		d.OwnerID,
		d.OriginChatID,
		d.Destination,
		d.ContentType,
		d.Summary,
		d.Status,
		d.Error,
		d.DeliveredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("could not record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the owner's latest deliveries, newest first.
func (s *Storage) RecentDeliveries(ctx context.Context, ownerID int64, limit int) ([]Delivery, error) {
	query := `SELECT id, owner_id, origin_chat_id, destination, content_type, summary, status, error, delivered_at
	FROM deliveries WHERE owner_id = ? ORDER BY delivered_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var deliveredAt int64
		if err := rows.Scan(
			&d.ID,
			&d.OwnerID,
			&d.OriginChatID,
			&d.Destination,
			&d.ContentType,
			&d.Summary,
			&d.Status,
			&d.Error,
			&deliveredAt,
		); err != nil {
			return nil, err
		}
		d.DeliveredAt = time.UnixMilli(deliveredAt)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// CountDelivered counts successful deliveries for the owner since the given instant.
func (s *Storage) CountDelivered(ctx context.Context, ownerID int64, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM deliveries WHERE owner_id = ? AND status = 'delivered' AND delivered_at >= ?`
	if err := s.db.QueryRowContext(ctx, query, ownerID, since.UnixMilli()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}
