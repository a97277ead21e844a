package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreMemory(t *testing.T) {
	s, err := NewStore(context.Background(), FactoryConfig{Provider: "memory"}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}

func TestNewStoreDefaultIsChromem(t *testing.T) {
	s, err := NewStore(context.Background(), FactoryConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*ChromemStore)
	assert.True(t, ok)
}

func TestNewStoreUnknownProvider(t *testing.T) {
	_, err := NewStore(context.Background(), FactoryConfig{Provider: "faiss"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
