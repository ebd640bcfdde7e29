// Package employee persists digital employee definitions and validates
// their model parameters.
package employee

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mekai/workforce/types"
)

var (
	ErrNotFound      = errors.New("employee: not found")
	ErrAlreadyExists = errors.New("employee: already exists")
)

// Store persists employee definitions.
type Store interface {
	Get(ctx context.Context, id string) (types.EmployeeConfig, error)
	Create(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error)
	Update(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]types.EmployeeConfig, error)
}

// Validate checks an employee definition before it is stored.
func Validate(emp types.EmployeeConfig) error {
	if emp.Name == "" {
		return types.NewError(types.ErrValidation, "employee name is required")
	}
	if emp.Temperature < 0 || emp.Temperature > 2 {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("temperature must be between 0 and 2, got %g", emp.Temperature))
	}
	if emp.MaxTokens < 1 {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("max_tokens must be at least 1, got %d", emp.MaxTokens))
	}
	return nil
}

// --- GORM 实现 ---

type employeeModel struct {
	ID               string    `gorm:"primaryKey;size:64"`
	Name             string    `gorm:"size:128;not null"`
	Persona          string    `gorm:"type:text"`
	Skills           []string  `gorm:"serializer:json"`
	KnowledgeBaseIDs []string  `gorm:"serializer:json"`
	Provider         string    `gorm:"size:32"`
	Model            string    `gorm:"size:64"`
	Temperature      float32   `gorm:"default:0.7"`
	MaxTokens        int       `gorm:"default:2048"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (employeeModel) TableName() string { return "employees" }

func (m employeeModel) toConfig() types.EmployeeConfig {
	return types.EmployeeConfig{
		ID:               m.ID,
		Name:             m.Name,
		Persona:          m.Persona,
		Skills:           m.Skills,
		KnowledgeBaseIDs: m.KnowledgeBaseIDs,
		Provider:         m.Provider,
		Model:            m.Model,
		Temperature:      m.Temperature,
		MaxTokens:        m.MaxTokens,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func fromConfig(emp types.EmployeeConfig) employeeModel {
	return employeeModel{
		ID:               emp.ID,
		Name:             emp.Name,
		Persona:          emp.Persona,
		Skills:           emp.Skills,
		KnowledgeBaseIDs: emp.KnowledgeBaseIDs,
		Provider:         emp.Provider,
		Model:            emp.Model,
		Temperature:      emp.Temperature,
		MaxTokens:        emp.MaxTokens,
	}
}

// GormStore persists employees in a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the employee table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&employeeModel{}); err != nil {
		return nil, fmt.Errorf("migrate employees: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (types.EmployeeConfig, error) {
	var m employeeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.EmployeeConfig{}, ErrNotFound
	}
	if err != nil {
		return types.EmployeeConfig{}, err
	}
	return m.toConfig(), nil
}

func (s *GormStore) Create(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error) {
	if err := Validate(emp); err != nil {
		return types.EmployeeConfig{}, err
	}
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	m := fromConfig(emp)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.EmployeeConfig{}, ErrAlreadyExists
		}
		return types.EmployeeConfig{}, err
	}
	return s.Get(ctx, emp.ID)
}

func (s *GormStore) Update(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error) {
	if err := Validate(emp); err != nil {
		return types.EmployeeConfig{}, err
	}
	m := fromConfig(emp)
	res := s.db.WithContext(ctx).Model(&employeeModel{}).
		Where("id = ?", emp.ID).
		Select("Name", "Persona", "Skills", "KnowledgeBaseIDs",
			"Provider", "Model", "Temperature", "MaxTokens").
		Updates(&m)
	if res.Error != nil {
		return types.EmployeeConfig{}, res.Error
	}
	if res.RowsAffected == 0 {
		return types.EmployeeConfig{}, ErrNotFound
	}
	return s.Get(ctx, emp.ID)
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&employeeModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]types.EmployeeConfig, error) {
	var models []employeeModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.EmployeeConfig, 0, len(models))
	for _, m := range models {
		out = append(out, m.toConfig())
	}
	return out, nil
}

// --- 内存实现 ---

// MemoryStore keeps employees in memory. Used in tests and single-node
// deployments without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	employees map[string]types.EmployeeConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{employees: make(map[string]types.EmployeeConfig)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (types.EmployeeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emp, ok := s.employees[id]
	if !ok {
		return types.EmployeeConfig{}, ErrNotFound
	}
	return emp, nil
}

func (s *MemoryStore) Create(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error) {
	if err := Validate(emp); err != nil {
		return types.EmployeeConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if emp.ID == "" {
		emp.ID = uuid.NewString()
	}
	if _, ok := s.employees[emp.ID]; ok {
		return types.EmployeeConfig{}, ErrAlreadyExists
	}
	now := time.Now()
	emp.CreatedAt = now
	emp.UpdatedAt = now
	s.employees[emp.ID] = emp
	return emp, nil
}

func (s *MemoryStore) Update(ctx context.Context, emp types.EmployeeConfig) (types.EmployeeConfig, error) {
	if err := Validate(emp); err != nil {
		return types.EmployeeConfig{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.employees[emp.ID]
	if !ok {
		return types.EmployeeConfig{}, ErrNotFound
	}
	emp.CreatedAt = existing.CreatedAt
	emp.UpdatedAt = time.Now()
	s.employees[emp.ID] = emp
	return emp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.employees[id]; !ok {
		return ErrNotFound
	}
	delete(s.employees, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]types.EmployeeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.EmployeeConfig, 0, len(s.employees))
	for _, emp := range s.employees {
		out = append(out, emp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
