package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestAddGet(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	created := time.Date(2024, 11, 2, 10, 30, 0, 123456789, time.UTC)
	e := Entry{
		ID:            "run-1",
		Kind:          KindAudit,
		Status:        StatusOK,
		ContractName:  "Counter",
		SecurityScore: 72,
		FilePath:      "/tmp/contracts/src/lib.cairo",
		Model:         "claude-3-opus-20240229",
		PromptVersion: "starknet-audit/2",
		CreatedAt:     created,
		Duration:      1500 * time.Millisecond,
	}
	require.NoError(t, h.Add(ctx, e))

	got, err := h.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestGetNotFound(t *testing.T) {
	h := openTest(t)
	_, err := h.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddReplaces(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	require.NoError(t, h.Add(ctx, Entry{ID: "r", Kind: KindGenerate, Status: StatusOK}))
	require.NoError(t, h.Add(ctx, Entry{ID: "r", Kind: KindGenerate, Status: StatusFailed, ErrorKind: "MissingField"}))

	got, err := h.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "MissingField", got.ErrorKind)
	assert.False(t, got.CreatedAt.IsZero(), "zero CreatedAt is stamped")
}

func TestAddRequiresID(t *testing.T) {
	h := openTest(t)
	assert.Error(t, h.Add(context.Background(), Entry{}))
}

func TestRecentOrder(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, h.Add(ctx, Entry{
			ID:        fmt.Sprintf("run-%d", i),
			Kind:      KindAudit,
			Status:    StatusOK,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := h.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-4", recent[0].ID)
	assert.Equal(t, "run-3", recent[1].ID)
	assert.Equal(t, "run-2", recent[2].ID)
}

func TestRecentEmpty(t *testing.T) {
	h := openTest(t)
	recent, err := h.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestConcurrentAdds(t *testing.T) {
	h := openTest(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Add(ctx, Entry{ID: fmt.Sprintf("c-%d", i), Kind: KindAudit, Status: StatusOK}))
		}()
	}
	wg.Wait()

	recent, err := h.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 20)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	h, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, h.Add(context.Background(), Entry{ID: "persist", Kind: KindAudit, Status: StatusOK}))
	require.NoError(t, h.Close())

	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()
	_, err = h.Get(context.Background(), "persist")
	assert.NoError(t, err)
}
