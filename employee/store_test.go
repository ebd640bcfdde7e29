package employee

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mekai/workforce/types"
)

func validEmployee() types.EmployeeConfig {
	return types.EmployeeConfig{
		Name:             "Ada",
		Persona:          "Support specialist",
		Skills:           []string{"billing", "refunds"},
		KnowledgeBaseIDs: []string{"kb-1"},
		Provider:         "deepseek",
		Model:            "deepseek-chat",
		Temperature:      0.7,
		MaxTokens:        1024,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	gs, err := NewGormStore(db)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   gs,
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := store.Create(ctx, validEmployee())
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)
			assert.False(t, created.CreatedAt.IsZero())

			got, err := store.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)
			assert.Equal(t, []string{"kb-1"}, got.KnowledgeBaseIDs)

			got.Persona = "Updated persona"
			got.KnowledgeBaseIDs = nil
			updated, err := store.Update(ctx, got)
			require.NoError(t, err)
			assert.Equal(t, "Updated persona", updated.Persona)
			assert.False(t, updated.HasKnowledge())

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, store.Delete(ctx, created.ID))
			_, err = store.Get(ctx, created.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrNotFound)
		})
	}
}

func TestStore_DuplicateCreate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			emp := validEmployee()
			emp.ID = "emp-dup"

			_, err := store.Create(ctx, emp)
			require.NoError(t, err)

			// gorm 侧依赖 TranslateError 把主键冲突归一化
			_, err = store.Create(ctx, emp)
			assert.ErrorIs(t, err, ErrAlreadyExists)
		})
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			emp := validEmployee()
			emp.ID = "missing"
			_, err := store.Update(context.Background(), emp)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.EmployeeConfig)
		wantErr bool
	}{
		{"valid", func(e *types.EmployeeConfig) {}, false},
		{"empty name", func(e *types.EmployeeConfig) { e.Name = "" }, true},
		{"temperature too low", func(e *types.EmployeeConfig) { e.Temperature = -0.1 }, true},
		{"temperature too high", func(e *types.EmployeeConfig) { e.Temperature = 2.1 }, true},
		{"temperature at bounds", func(e *types.EmployeeConfig) { e.Temperature = 2 }, false},
		{"zero max tokens", func(e *types.EmployeeConfig) { e.MaxTokens = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emp := validEmployee()
			tt.mutate(&emp)
			err := Validate(emp)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
