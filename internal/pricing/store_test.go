package pricing

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/markusylisiurunen/ticketdesk/internal/logger"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "prices.db"), logger.NoOp())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return store
}

func TestNormalizeCity(t *testing.T) {
	require.Equal(t, "paris", NormalizeCity("  Paris "))
	require.Equal(t, "new york", NormalizeCity("NEW YORK"))
	require.Equal(t, "", NormalizeCity("   "))
}

func TestStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, ok, err := store.Get(ctx, "Paris")
	require.NoError(t, err)
	require.False(t, ok)

	for _, price := range []float64{0, 0.01, 799, 1234.56, 1e6} {
		require.NoError(t, store.Set(ctx, "Paris", price))
		got, ok, err := store.Get(ctx, "paris")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, price, got)
	}
}

func TestStoreSetRejectsInvalidPrice(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Set(ctx, "Rome", 650))

	for _, price := range []float64{-5, math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := store.Set(ctx, "Rome", price)
		require.ErrorIs(t, err, ErrInvalidPrice)
	}

	got, ok, err := store.Get(ctx, "ROME")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 650.0, got)
}

func TestStoreRejectsBlankCity(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.ErrorIs(t, store.Set(ctx, " ", 100), ErrInvalidCity)
	_, _, err := store.Get(ctx, "")
	require.ErrorIs(t, err, ErrInvalidCity)
}

func TestStoreAddKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	stored, inserted, err := store.Add(ctx, "Oslo", 500)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, 500.0, stored)

	stored, inserted, err = store.Add(ctx, "oslo", 900)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 500.0, stored)
}

func TestStoreSeedAndList(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	require.NoError(t, store.Set(ctx, "London", 1))
	require.NoError(t, store.Seed(ctx, map[string]float64{
		"London": 799,
		"paris":  899,
	}))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []PriceRecord{
		{City: "london", Price: 799},
		{City: "paris", Price: 899},
	}, records)

	require.ErrorIs(t, store.Seed(ctx, map[string]float64{"x": -1}), ErrInvalidPrice)
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prices.db")

	store, err := Open(ctx, path, logger.NoOp())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "Tokyo", 1420))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, logger.NoOp())
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck
	got, ok, err := store.Get(ctx, "tokyo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1420.0, got)
}
