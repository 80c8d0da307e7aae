package market

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Publish(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	records := []Record{rec(1, "aave", "USDC", 4.5)}
	payload, err := json.Marshal(records)
	require.NoError(t, err)

	mock.ExpectSet("yieldrun:snapshot:1", payload, time.Hour).SetVal("OK")

	require.NoError(t, store.Publish(context.Background(), 1, records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Load(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	records := []Record{rec(42161, "compound", "DAI", 6.2)}
	payload, err := json.Marshal(records)
	require.NoError(t, err)

	mock.ExpectGet("yieldrun:snapshot:42161").SetVal(string(payload))

	got, ok, err := store.Load(context.Background(), 42161)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "compound", got[0].Protocol)
	assert.Equal(t, 6.2, got[0].BaseAPY)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Load_MissingKey(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectGet("yieldrun:snapshot:10").RedisNil()

	got, ok, err := store.Load(context.Background(), 10)
	require.NoError(t, err, "an expired or absent key is not an error")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisStore_Load_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectGet("yieldrun:snapshot:1").SetErr(errors.New("connection refused"))

	_, ok, err := store.Load(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Load_CorruptPayload(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectGet("yieldrun:snapshot:1").SetVal("{not json")

	_, ok, err := store.Load(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, ok)
}
