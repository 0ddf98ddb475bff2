// Package storage holds the local copies of chat history: a Redis cache of
// each room's recent messages and a relational archive of everything seen.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"teamdash/chat/internal/config"
	"teamdash/chat/internal/models"
)

const historyKeyPrefix = "chat:history:"

// Service implements the controller's Persistence. Either backend may be
// nil, in which case the methods using it do nothing.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	TTL   time.Duration

	log zerolog.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = config.HistoryCacheTTL
	}
	return &Service{
		DB:    db,
		Redis: rdb,
		TTL:   ttl,
		log:   log.With().Str("component", "storage").Logger(),
	}
}

// OpenDatabase connects the archive database and migrates its table.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&models.ChatArchive{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return db, nil
}

// OpenRedis connects the history cache and checks it answers.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

func historyKey(room string) string { return historyKeyPrefix + room }

// CachedHistory returns the cached view of room, or nil when nothing is
// cached.
func (s *Service) CachedHistory(ctx context.Context, room string) ([]models.ChatMessage, error) {
	if s.Redis == nil {
		return nil, nil
	}
	data, err := s.Redis.Get(ctx, historyKey(room)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []models.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		// A corrupt entry is only a cache miss.
		s.log.Warn().Err(err).Str("room", room).Msg("dropping unreadable history cache entry")
		_ = s.Redis.Del(ctx, historyKey(room)).Err()
		return nil, nil
	}
	return msgs, nil
}

// CacheHistory replaces the cached view of room. Optimistic copies are not
// cached.
func (s *Service) CacheHistory(ctx context.Context, room string, msgs []models.ChatMessage) error {
	if s.Redis == nil {
		return nil
	}
	confirmed := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.Pending {
			confirmed = append(confirmed, m)
		}
	}
	if n := len(confirmed); n > config.HistoryCacheSize {
		confirmed = confirmed[n-config.HistoryCacheSize:]
	}

	data, err := json.Marshal(confirmed)
	if err != nil {
		return err
	}
	return s.Redis.Set(ctx, historyKey(room), data, s.TTL).Err()
}

// ArchiveMessages upserts confirmed messages by id.
func (s *Service) ArchiveMessages(ctx context.Context, msgs ...models.ChatMessage) error {
	if s.DB == nil {
		return nil
	}
	rows := make([]models.ChatArchive, 0, len(msgs))
	for _, m := range msgs {
		if m.Pending || m.ID == "" || m.Room() == "" {
			continue
		}
		rows = append(rows, models.NewChatArchive(m))
	}
	if len(rows) == 0 {
		return nil
	}

	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sender_name", "sender_role", "content", "sent_at"}),
	}).Create(&rows).Error
}

// ArchivedMessages returns the latest limit messages of room, oldest first.
func (s *Service) ArchivedMessages(ctx context.Context, room string, limit int) ([]models.ChatMessage, error) {
	if s.DB == nil {
		return nil, nil
	}
	var rows []models.ChatArchive
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", room).
		Order("sent_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]models.ChatMessage, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.Message()
	}
	return msgs, nil
}

// Close releases both backends.
func (s *Service) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
