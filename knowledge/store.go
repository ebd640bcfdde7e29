// Package knowledge implements knowledge base storage and the retrieval
// tool exposed to persona agents.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Base is a named collection of knowledge items bound to employees.
type Base struct {
	ID          string    `json:"id" gorm:"primaryKey;size:64"`
	Name        string    `json:"name" gorm:"size:255;not null"`
	Description string    `json:"description,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Base) TableName() string { return "knowledge_bases" }

// Item is a single retrievable document inside a base.
type Item struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	BaseID    string    `json:"base_id" gorm:"size:64;index;not null"`
	Title     string    `json:"title" gorm:"size:255"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (Item) TableName() string { return "knowledge_items" }

// Store abstracts knowledge persistence. Retrieval internals stay behind
// Search; callers never see scoring details.
type Store interface {
	// GetBase returns the base by ID, or an error if it does not exist.
	GetBase(ctx context.Context, id string) (*Base, error)

	// Search returns up to limit items from the base matching the query,
	// most relevant first.
	Search(ctx context.Context, baseID, query string, limit int) ([]Item, error)

	// CreateBase registers a new base.
	CreateBase(ctx context.Context, base *Base) error

	// AddItem appends an item to a base.
	AddItem(ctx context.Context, item *Item) error
}

// ErrBaseNotFound 标记知识库不存在。
var ErrBaseNotFound = fmt.Errorf("knowledge base not found")

// =============================================================================
// GORM 存储
// =============================================================================

// GormStore persists knowledge bases in a relational database.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a store backed by the given gorm DB and migrates
// the schema.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Base{}, &Item{}); err != nil {
		return nil, fmt.Errorf("knowledge schema migration failed: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) GetBase(ctx context.Context, id string) (*Base, error) {
	var base Base
	err := s.db.WithContext(ctx).First(&base, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBaseNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &base, nil
}

func (s *GormStore) Search(ctx context.Context, baseID, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	var items []Item
	pattern := "%" + strings.TrimSpace(query) + "%"
	err := s.db.WithContext(ctx).
		Where("base_id = ? AND (content LIKE ? OR title LIKE ?)", baseID, pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) CreateBase(ctx context.Context, base *Base) error {
	now := time.Now()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
	return s.db.WithContext(ctx).Create(base).Error
}

func (s *GormStore) AddItem(ctx context.Context, item *Item) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// =============================================================================
// 内存存储
// =============================================================================

// MemoryStore keeps knowledge in process memory. Used for development and
// as the default backend when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	bases map[string]*Base
	items map[string][]Item // baseID -> items
}

// NewMemoryStore creates an empty in-memory knowledge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bases: make(map[string]*Base),
		items: make(map[string][]Item),
	}
}

func (s *MemoryStore) GetBase(_ context.Context, id string) (*Base, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base, ok := s.bases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBaseNotFound, id)
	}
	copied := *base
	return &copied, nil
}

func (s *MemoryStore) Search(_ context.Context, baseID, query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.bases[baseID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrBaseNotFound, baseID)
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var matched []Item
	for _, item := range s.items[baseID] {
		if q == "" ||
			strings.Contains(strings.ToLower(item.Content), q) ||
			strings.Contains(strings.ToLower(item.Title), q) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) CreateBase(_ context.Context, base *Base) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
	copied := *base
	s.bases[base.ID] = &copied
	return nil
}

func (s *MemoryStore) AddItem(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	s.items[item.BaseID] = append(s.items[item.BaseID], *item)
	return nil
}
