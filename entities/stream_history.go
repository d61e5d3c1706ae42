package entities

import (
	"time"

	"github.com/google/uuid"
)

type StreamHistory struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	OwnerID         string     `json:"owner_id" gorm:"type:varchar(64);not null;index:idx_stream_history_owner_id"`
	Status          string     `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	Bitrate         *int       `json:"bitrate" gorm:"type:integer"`
	Resolution      *string    `json:"resolution" gorm:"type:varchar(20)"`
	FrameRate       *float64   `json:"frame_rate" gorm:"type:double precision"`
	Codec           *string    `json:"codec" gorm:"type:varchar(32)"`
	StartedAt       time.Time  `json:"started_at" gorm:"type:timestamptz;not null"`
	EndedAt         *time.Time `json:"ended_at" gorm:"type:timestamptz"`
	DurationSeconds *int64     `json:"duration_seconds" gorm:"type:bigint"`
	CreatedAt       time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (StreamHistory) TableName() string {
	return "stream_history"
}
