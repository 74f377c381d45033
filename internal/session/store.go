package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Status is the persisted lifecycle state of a session.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusReady        Status = "READY"
	StatusDisconnected Status = "DISCONNECTED"
)

// ErrSessionNotFound marks lookups and destroys against an absent session.
var ErrSessionNotFound = errors.New("session not found")

// Session is the durable record of one bridge session. Exactly one row exists
// per session id; StatusReady implies IsAuthenticated.
type Session struct {
	SessionID       string    `json:"sessionId"`
	Status          Status    `json:"status"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	PhoneNumber     string    `json:"phoneNumber,omitempty"`
	AuthPath        string    `json:"authPath,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store persists session rows. Only the lifecycle controller writes.
type Store interface {
	// MarkPending upserts the row with status PENDING, leaving any other
	// columns from a previous authentication untouched.
	MarkPending(ctx context.Context, sessionID string) error
	// Upsert writes the full row, replacing status, authentication flag,
	// phone number, and auth path.
	Upsert(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

type sessionModel struct {
	SessionID       string    `gorm:"type:text;primaryKey"`
	Status          string    `gorm:"type:text;not null"`
	IsAuthenticated bool      `gorm:"not null"`
	PhoneNumber     string    `gorm:"type:text"`
	AuthPath        string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (sessionModel) TableName() string { return "sessions" }

func (m sessionModel) toAPI() Session {
	return Session{
		SessionID:       m.SessionID,
		Status:          Status(m.Status),
		IsAuthenticated: m.IsAuthenticated,
		PhoneNumber:     m.PhoneNumber,
		AuthPath:        m.AuthPath,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// GormStore is the PostgreSQL-backed Store.
type GormStore struct {
	orm *gorm.DB
}

func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func (s *GormStore) MarkPending(ctx context.Context, sessionID string) error {
	model := sessionModel{SessionID: sessionID, Status: string(StatusPending)}
	return s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) Upsert(ctx context.Context, sess Session) error {
	model := sessionModel{
		SessionID:       sess.SessionID,
		Status:          string(sess.Status),
		IsAuthenticated: sess.IsAuthenticated,
		PhoneNumber:     sess.PhoneNumber,
		AuthPath:        sess.AuthPath,
	}
	return s.orm.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "is_authenticated", "phone_number", "auth_path", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var model sessionModel
	err := s.orm.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, err
	}
	sess := model.toAPI()
	return &sess, nil
}

func (s *GormStore) Delete(ctx context.Context, sessionID string) error {
	return s.orm.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&sessionModel{}).Error
}
