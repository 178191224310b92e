package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	st, err := NewGormStore(db)
	require.NoError(t, err)
	return st
}

func TestGormStoreSaveAndLoad(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "wf-1", []byte(`{"id":"wf-1","status":"running"}`)))

	data, err := st.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"wf-1","status":"running"}`, string(data))
}

func TestGormStoreUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, "wf-1", []byte(`{"status":"running"}`)))
	require.NoError(t, st.Save(ctx, "wf-1", []byte(`{"status":"completed"}`)))

	data, err := st.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, string(data))
}

func TestGormStoreLoadMissing(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
