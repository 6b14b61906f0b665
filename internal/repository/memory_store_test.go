package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/contract-ledger-service/internal/models"
)

func TestMemoryStore_RollsBackOnError(t *testing.T) {
	store := NewMemoryStore()
	plotID := uuid.New()
	store.PutPlot(models.Plot{ID: plotID, PlotNumber: "C-1"})

	contractID := uuid.New()
	err := store.WithinTx(context.Background(), func(tx Tx) error {
		claimed, err := tx.ClaimPlot(context.Background(), plotID, contractID)
		require.NoError(t, err)
		require.True(t, claimed)
		return errors.New("abort")
	})
	require.Error(t, err)

	plot, err := store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.True(t, plot.IsSellable())
}

func TestMemoryStore_RollsBackOnExpiredContext(t *testing.T) {
	store := NewMemoryStore()
	plotID := uuid.New()
	store.PutPlot(models.Plot{ID: plotID, PlotNumber: "C-2"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := store.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.ClaimPlot(ctx, plotID, uuid.New())
		<-ctx.Done()
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	plot, err := store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.Nil(t, plot.ActiveContractID)
}

func TestMemoryStore_ClaimAndRelease(t *testing.T) {
	store := NewMemoryStore()
	plotID := uuid.New()
	store.PutPlot(models.Plot{ID: plotID, PlotNumber: "C-3"})
	first, second := uuid.New(), uuid.New()

	require.NoError(t, store.WithinTx(context.Background(), func(tx Tx) error {
		claimed, err := tx.ClaimPlot(context.Background(), plotID, first)
		assert.True(t, claimed)
		return err
	}))

	require.NoError(t, store.WithinTx(context.Background(), func(tx Tx) error {
		claimed, err := tx.ClaimPlot(context.Background(), plotID, second)
		assert.False(t, claimed)
		require.NoError(t, err)
		// Only the holding contract can release the plot.
		return tx.ReleasePlot(context.Background(), plotID, second)
	}))

	plot, err := store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	require.NotNil(t, plot.ActiveContractID)
	assert.Equal(t, first, *plot.ActiveContractID)
	assert.Equal(t, models.PlotSold, plot.Availability)

	require.NoError(t, store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.ReleasePlot(context.Background(), plotID, first)
	}))

	plot, err = store.GetPlot(context.Background(), plotID)
	require.NoError(t, err)
	assert.True(t, plot.IsSellable())
}

func TestMemoryStore_InstallmentsOrderedAndUnique(t *testing.T) {
	store := NewMemoryStore()
	contractID := uuid.New()

	row := func(no int) models.ContractInstallment {
		return models.ContractInstallment{ID: uuid.New(), ContractID: contractID, InstallmentNo: no, AmountDue: decimal.NewFromInt(10)}
	}

	require.NoError(t, store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.CreateInstallments(context.Background(), []models.ContractInstallment{row(3), row(1), row(2)})
	}))

	err := store.WithinTx(context.Background(), func(tx Tx) error {
		return tx.CreateInstallments(context.Background(), []models.ContractInstallment{row(2)})
	})
	assert.Error(t, err)

	rows, err := store.ListInstallments(context.Background(), contractID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, i+1, r.InstallmentNo)
	}
}

func TestMemoryResolver(t *testing.T) {
	resolver := NewMemoryResolver()
	resolver.Fail("down", errors.New("connection refused"))

	_, err := resolver.StoreFor(context.Background(), "down")
	assert.Error(t, err)

	a, err := resolver.StoreFor(context.Background(), "a")
	require.NoError(t, err)
	assert.Same(t, resolver.Store("a"), a)
	assert.NotSame(t, resolver.Store("b"), a)

	_, err = resolver.Store("missing").GetContract(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
