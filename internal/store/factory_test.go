package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/store"
)

func TestNew_MemoryProvider(t *testing.T) {
	s, err := store.New(store.Config{Provider: "memory"}, nil, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	it := makeItem(t, "volatile", knowledge.GlobalScope())
	require.NoError(t, s.Insert(ctx, it))

	got, err := s.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, it.Content, got.Content)
}

func TestNew_ChromemDefault(t *testing.T) {
	cfg := store.Config{
		Chromem: store.ChromemConfig{
			Path:       filepath.Join(t.TempDir(), "store"),
			VectorSize: 64,
		},
	}
	s, err := store.New(cfg, newTestEmbedder(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*store.ChromemStore)
	assert.True(t, ok)
}

func TestNew_SQLiteProvider(t *testing.T) {
	cfg := store.Config{
		Provider: "sqlite",
		SQLite:   store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "items.db")},
	}
	s, err := store.New(cfg, newTestEmbedder(), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*store.SQLiteStore)
	assert.True(t, ok)
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := store.New(store.Config{Provider: "etcd"}, nil, zap.NewNop())
	assert.ErrorIs(t, err, store.ErrInvalidConfig)
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, store.ValidateCollectionName("relevanced_items"))
	assert.NoError(t, store.ValidateCollectionName("a1"))

	assert.ErrorIs(t, store.ValidateCollectionName(""), store.ErrInvalidCollectionName)
	assert.ErrorIs(t, store.ValidateCollectionName("Has-Caps"), store.ErrInvalidCollectionName)
	assert.ErrorIs(t, store.ValidateCollectionName("white space"), store.ErrInvalidCollectionName)
}
