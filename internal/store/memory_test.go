package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	repositoryContract(t, func(t *testing.T) Repository { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	repo := NewMemoryStore()
	p := seedProduct(t, repo, 4)

	got, err := repo.GetProductByID(context.Background(), p.ID)
	require.NoError(t, err)
	got.StockQuantity = 999

	again, err := repo.GetProductByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, again.StockQuantity)
}
