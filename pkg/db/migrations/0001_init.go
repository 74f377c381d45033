package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Session struct {
	SessionID       string    `gorm:"type:text;primaryKey"`
	Status          string    `gorm:"type:text;not null"`
	IsAuthenticated bool      `gorm:"not null;default:false"`
	PhoneNumber     string    `gorm:"type:text"`
	AuthPath        string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt       time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Session) TableName() string { return "sessions" }

type Message struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID  string     `gorm:"type:text;not null;index"`
	ToAddr     string     `gorm:"type:text;not null;index:idx_messages_to_created,priority:1"`
	Body       string     `gorm:"type:text;not null"`
	Status     string     `gorm:"type:text;not null"`
	ProviderID *string    `gorm:"type:text"`
	SentAt     *time.Time `gorm:"type:timestamptz"`
	Error      *string    `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index:idx_messages_to_created,priority:2,sort:desc"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Message) TableName() string { return "messages" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Session{},
		&Message{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Message{},
		&Session{},
	)
}
