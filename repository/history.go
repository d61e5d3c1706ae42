package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"live-ingest/dto"
	"live-ingest/entities"
)

var ErrHistoryNotFound = errors.New("stream history: session not found")

// HistoryRepository keeps a durable record of every stream that went live.
type HistoryRepository interface {
	GetDB() *gorm.DB
	RecordStarted(ctx context.Context, event dto.StreamStartedEvent) error
	RecordEnded(ctx context.Context, event dto.StreamEndedEvent) error
	FindBySessionID(ctx context.Context, sessionID string) (*entities.StreamHistory, error)
}

type historyRepo struct {
	db *gorm.DB
}

func NewHistoryRepo(db *sql.DB) (HistoryRepository, error) {
	gormDB, err := openHistoryDB(db)
	if err != nil {
		return nil, err
	}
	if err := gormDB.AutoMigrate(&entities.StreamHistory{}); err != nil {
		return nil, fmt.Errorf("migrate stream_history: %w", err)
	}
	return &historyRepo{db: gormDB}, nil
}

func openHistoryDB(db *sql.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return gormDB, nil
}

func (r *historyRepo) GetDB() *gorm.DB {
	return r.db
}

func (r *historyRepo) RecordStarted(ctx context.Context, event dto.StreamStartedEvent) error {
	id, err := uuid.Parse(event.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", event.SessionID, err)
	}
	row := &entities.StreamHistory{
		ID:         id,
		OwnerID:    event.OwnerID,
		Status:     "active",
		Bitrate:    event.Bitrate,
		Resolution: event.Resolution,
		FrameRate:  event.FrameRate,
		Codec:      event.Codec,
		StartedAt:  event.StartedAt,
	}
	return r.GetDB().WithContext(ctx).Create(row).Error
}

func (r *historyRepo) RecordEnded(ctx context.Context, event dto.StreamEndedEvent) error {
	id, err := uuid.Parse(event.SessionID)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", event.SessionID, err)
	}
	seconds := int64(event.DurationSeconds)
	updates := map[string]interface{}{
		"status":           "ended",
		"ended_at":         event.EndedAt,
		"duration_seconds": seconds,
		"updated_at":       time.Now().UTC(),
	}
	result := r.GetDB().WithContext(ctx).Model(&entities.StreamHistory{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	// An end without a start row means the started fact was lost.
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}
	return nil
}

func (r *historyRepo) FindBySessionID(ctx context.Context, sessionID string) (*entities.StreamHistory, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, sessionID)
	}
	row := &entities.StreamHistory{}
	err = r.GetDB().WithContext(ctx).First(row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrHistoryNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
