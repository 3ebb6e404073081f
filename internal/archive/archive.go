// Package archive implements the local message cache, backed by GORM over
// SQLite (pure Go driver). Messages inserted into the sync engine's store are
// mirrored here through the session's insert hook, and a rejoin seeds the
// engine from the archive before the network snapshot arrives.
//
// The archive is strictly a warm-start optimization: every row it returns
// flows through the engine's normal idempotent merge, so a stale or partial
// archive can never corrupt the in-memory state.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/ktbchat/go-chat-sync/internal/domain"
)

// ArchivedMessage is the persisted form of a message. Readers and reactions
// are stored as JSON blobs; the archive never queries inside them.
type ArchivedMessage struct {
	ID        string `gorm:"primaryKey;size:64"`
	RoomID    string `gorm:"index:idx_room_ts,priority:1;size:64"`
	Kind      string `gorm:"size:16"`
	Content   string
	SenderID  string    `gorm:"size:64"`
	FileJSON  string    `gorm:"column:file_json"`
	Timestamp time.Time `gorm:"index:idx_room_ts,priority:2"`
	Readers   string    `gorm:"column:readers_json"`
	Reactions string    `gorm:"column:reactions_json"`
	ClientKey string    `gorm:"size:64"`

	CreatedAt time.Time
}

// Store is the archive handle.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (or creates) the archive database, applies PRAGMAs, and migrates
// the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	// Fail early if the parent directory does not exist.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("archive: tracing plugin: %w", err)
	}
	if err := db.AutoMigrate(&ArchivedMessage{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "archive").Logger()}, nil
}

// SaveBatch mirrors a batch of freshly inserted messages. Conflicting ids are
// ignored; the engine's first-write-wins rule already decided the content.
func (s *Store) SaveBatch(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]ArchivedMessage, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, toRow(&msgs[i]))
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("archive: save batch: %w", err)
	}
	s.log.Debug().Int("count", len(rows)).Msg("batch archived")
	return nil
}

// LoadRecent returns the newest limit messages of a room in (timestamp, id)
// ascending order, shaped for a seeding merge.
func (s *Store) LoadRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	var rows []ArchivedMessage
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("archive: load recent: %w", err)
	}
	// Reverse into ascending order.
	msgs := make([]domain.Message, len(rows))
	for i := range rows {
		msgs[len(rows)-1-i] = fromRow(&rows[i])
	}
	return msgs, nil
}

// Prune deletes a room's rows older than cutoff, returning the count removed.
func (s *Store) Prune(ctx context.Context, roomID string, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("room_id = ? AND timestamp < ?", roomID, cutoff).
		Delete(&ArchivedMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("archive: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(m *domain.Message) ArchivedMessage {
	row := ArchivedMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Kind:      string(m.Kind),
		Content:   m.Content,
		SenderID:  m.SenderID,
		Timestamp: m.Timestamp,
		ClientKey: m.ClientKey,
	}
	if m.File != nil {
		if b, err := json.Marshal(m.File); err == nil {
			row.FileJSON = string(b)
		}
	}
	if len(m.Readers) > 0 {
		if b, err := json.Marshal(m.Readers); err == nil {
			row.Readers = string(b)
		}
	}
	if len(m.Reactions) > 0 {
		if b, err := json.Marshal(m.Reactions); err == nil {
			row.Reactions = string(b)
		}
	}
	return row
}

func fromRow(r *ArchivedMessage) domain.Message {
	m := domain.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Kind:      domain.MessageKind(r.Kind),
		Content:   r.Content,
		SenderID:  r.SenderID,
		Timestamp: r.Timestamp,
		ClientKey: r.ClientKey,
	}
	if r.FileJSON != "" {
		var f domain.FileMeta
		if err := json.Unmarshal([]byte(r.FileJSON), &f); err == nil {
			m.File = &f
		}
	}
	if r.Readers != "" {
		_ = json.Unmarshal([]byte(r.Readers), &m.Readers)
	}
	if r.Reactions != "" {
		_ = json.Unmarshal([]byte(r.Reactions), &m.Reactions)
	}
	return m
}
