// Package history persists completed transfers. Only transfers are
// recorded; the peer registry itself stays in memory and dies with the
// process.
package history

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

type Transfer struct {
	ID        uint `gorm:"primaryKey"`
	Direction string
	PeerID    string
	PeerName  string
	FileName  string
	Hash      string
	Size      uint64
	CreatedAt int64
}

type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the transfer log at path. Use ":memory:"
// for tests.
func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if err := db.AutoMigrate(&Transfer{}); err != nil {
		return nil, fmt.Errorf("migrating history db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(t Transfer) error {
	t.CreatedAt = time.Now().Unix()
	if err := s.db.Create(&t).Error; err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

// Recent returns the newest transfers, most recent first.
func (s *Store) Recent(limit int) ([]Transfer, error) {
	var transfers []Transfer
	err := s.db.Order("id DESC").Limit(limit).Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	return transfers, nil
}
