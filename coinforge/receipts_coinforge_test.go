package coinforge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceipts_GrantsOnce(t *testing.T) {
	engine, _ := newTestEngine(t)
	publisher := &capturePublisher{}
	engine.AddPublisher(publisher)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()
	receipts := engine.GetReceiptsSystem()

	result, err := receipts.ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultGranted, result)

	gems, err := engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 80.0, gems)

	// Redelivery of the same receipt settles without a second grant.
	result, err = receipts.ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultGranted, result)

	gems, err = engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 80.0, gems)
	assert.Len(t, publisher.byCategory(TransactionCategoryPurchase), 1)
}

func TestReceipts_IdempotentAcrossSessions(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	result, err := engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	require.Equal(t, ReceiptResultGranted, result)

	// The mark survives a leave/join cycle, so the grant stays one-shot forever.
	engine.GetProfilesSystem().OnPlayerLeave(ctx, logger, 1)
	joinPlayer(t, engine, 1)

	result, err = engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultGranted, result)

	gems, err := engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 80.0, gems)
}

func TestReceipts_RejectsEmptyIdentifiers(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	_, err := engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "", "receipt-1")
	assert.Equal(t, ErrBadInput, err)
	_, err = engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "")
	assert.Equal(t, ErrBadInput, err)
}

func TestReceipts_RetryableWhenPlayerNotLoaded(t *testing.T) {
	engine, _ := newTestEngine(t)
	logger := &mockLogger{}

	result, err := engine.GetReceiptsSystem().ProcessReceipt(context.Background(), logger, 99, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultRetryable, result)
}

func TestReceipts_UnknownProductSettlesWithoutGrant(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	result, err := engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.unknown", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultGranted, result)

	gems, err := engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 0.0, gems)
}

func TestReceipts_RetryableWhenPersistFails(t *testing.T) {
	engine, store := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	store.FailNextSave()
	result, err := engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultRetryable, result)

	// The grant itself was applied; the redelivery settles off the in-memory mark
	// without granting again.
	gems, err := engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 80.0, gems)

	result, err = engine.GetReceiptsSystem().ProcessReceipt(ctx, logger, 1, "com.test.gems.small", "receipt-1")
	require.NoError(t, err)
	assert.Equal(t, ReceiptResultGranted, result)
	gems, _ = engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	assert.Equal(t, 80.0, gems)
}

func TestReceipts_ConcurrentDeliveryGrantsOnce(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()
	receipts := engine.GetReceiptsSystem()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := receipts.ProcessReceipt(ctx, logger, 1, "com.test.gems.medium", "receipt-dup")
			assert.NoError(t, err)
			if result == ReceiptResultGranted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, granted, 1)
	gems, err := engine.GetCurrencySystem().GetValue(ctx, logger, 1, "gems")
	require.NoError(t, err)
	assert.Equal(t, 500.0, gems)
}

func TestReceipts_SweepPurgesExpiredMarks(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	profile, exists := engine.GetProfilesSystem().GetProfile(1)
	require.True(t, exists)

	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour).Unix() // past the 30 day retention
	fresh := now.Add(-5 * 24 * time.Hour).Unix()
	profile.mu.Lock()
	for i := 0; i < 3; i++ {
		profile.Receipts[fmt.Sprintf("expired-%d", i)] = old
	}
	profile.Receipts["fresh"] = fresh
	profile.LastSweep = 0
	profile.mu.Unlock()

	engine.GetReceiptsSystem().Sweep(ctx, logger, 1)

	profile.mu.Lock()
	defer profile.mu.Unlock()
	assert.Len(t, profile.Receipts, 1)
	assert.Contains(t, profile.Receipts, "fresh")
	assert.NotZero(t, profile.LastSweep)
}

func TestReceipts_SweepGatedToOncePerDay(t *testing.T) {
	engine, _ := newTestEngine(t)
	joinPlayer(t, engine, 1)
	logger := &mockLogger{}
	ctx := context.Background()

	profile, _ := engine.GetProfilesSystem().GetProfile(1)
	profile.mu.Lock()
	profile.Receipts["expired"] = time.Now().Add(-365 * 24 * time.Hour).Unix()
	profile.LastSweep = time.Now().Unix() // swept moments ago
	profile.mu.Unlock()

	engine.GetReceiptsSystem().Sweep(ctx, logger, 1)

	profile.mu.Lock()
	defer profile.mu.Unlock()
	assert.Contains(t, profile.Receipts, "expired")
}
