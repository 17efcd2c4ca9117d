package service

import (
	"context"
	"testing"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	save := func(tx storage.Store) error {
		_, err := tx.SaveMember(models.Member{FirstName: "Ada"})
		return err
	}
	count := func(t *testing.T, store storage.Store) int {
		members, err := store.ListMembers()
		require.NoError(t, err)
		return len(members)
	}

	t.Run("Commit", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, inTx(ctx, store, nopLogger{}, save))
		assert.Equal(t, 1, count(t, store))
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		store := storage.NewMemoryStore()
		err := inTx(ctx, store, nopLogger{}, func(tx storage.Store) error {
			require.NoError(t, save(tx))
			return errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 0, count(t, store))
	})

	t.Run("RollbackOnPanic", func(t *testing.T) {
		store := storage.NewMemoryStore()
		assert.PanicsWithValue(t, "boom", func() {
			_ = inTx(ctx, store, nopLogger{}, func(tx storage.Store) error {
				require.NoError(t, save(tx))
				panic("boom")
			})
		})
		assert.Equal(t, 0, count(t, store), "writes made before the panic are discarded")

		// The transaction was released, so the store is still usable.
		require.NoError(t, inTx(ctx, store, nopLogger{}, save))
		assert.Equal(t, 1, count(t, store))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := storage.NewMemoryStore()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, inTx(cancelled, store, nopLogger{}, save), context.Canceled)
		assert.Equal(t, 0, count(t, store))
	})
}
