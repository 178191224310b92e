package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowRecord 工作流持久化记录
type WorkflowRecord struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Data      []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (WorkflowRecord) TableName() string {
	return "pipeline_workflows"
}

// GormStore 基于 GORM 的工作流存储
// 测试用内存 sqlite，生产用 postgres
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建存储并迁移表结构
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&WorkflowRecord{}); err != nil {
		return nil, fmt.Errorf("迁移工作流表失败: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Save 保存（upsert）工作流
func (s *GormStore) Save(ctx context.Context, id string, data []byte) error {
	record := WorkflowRecord{ID: id, Data: data, UpdatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&record).Error; err != nil {
		return fmt.Errorf("保存工作流失败: %w", err)
	}
	return nil
}

// Load 读取工作流
func (s *GormStore) Load(ctx context.Context, id string) ([]byte, error) {
	var record WorkflowRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取工作流失败: %w", err)
	}
	return record.Data, nil
}
