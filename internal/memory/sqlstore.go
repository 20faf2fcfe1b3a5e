package memory

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

type MemoryRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"type:varchar(128);index:idx_memory_user_created,priority:1;not null"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_memory_user_created,priority:2"`
}

func (MemoryRecord) TableName() string { return "memory_records" }

// SQLStore persists memories in the application database so they survive
// restarts and are shared by replicas.
type SQLStore struct {
	db   *gorm.DB
	scan int
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, scan: 500}
}

func (s *SQLStore) Ingest(ctx context.Context, owner, role, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Create(&MemoryRecord{UserID: owner, Role: role, Content: text}).Error
}

// Retrieve ranks the owner's most recent records against query.
func (s *SQLStore) Retrieve(ctx context.Context, owner, query string) (string, error) {
	var rows []MemoryRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", owner).
		Order("created_at DESC").
		Order("id DESC").
		Limit(s.scan).
		Find(&rows).Error; err != nil {
		return "", err
	}
	recs := make([]Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, Record{Role: r.Role, Text: r.Content, At: r.CreatedAt})
	}
	return format(rank(recs, query, defaultLimit)), nil
}

func (s *SQLStore) Forget(ctx context.Context, owner string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", owner).Delete(&MemoryRecord{}).Error
}
