package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestArchive(t *testing.T) (*CallbackArchive, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	a := NewCallbackArchive(db)
	require.NoError(t, a.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return a, cleanup
}

func TestSaveAndList(t *testing.T) {
	a, cleanup := setupTestArchive(t)
	defer cleanup()

	ctx := context.Background()
	paymentID := uuid.New()
	code := 0
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, a.Save(ctx, Record{
		PaymentID:  paymentID.String(),
		ReceivedAt: first.Add(time.Minute),
		RemoteAddr: "196.201.214.200",
		ResultCode: &code,
		Body:       `{"Body":{"stkCallback":{"ResultCode":0}}}`,
	}))
	require.NoError(t, a.Save(ctx, Record{
		PaymentID:  paymentID.String(),
		ReceivedAt: first,
		Body:       `not json`,
	}))
	require.NoError(t, a.Save(ctx, Record{PaymentID: uuid.NewString(), Body: "{}"}))

	recs, err := a.ListByPayment(ctx, paymentID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "not json", recs[0].Body)
	assert.Nil(t, recs[0].ResultCode)
	require.NotNil(t, recs[1].ResultCode)
	assert.Equal(t, 0, *recs[1].ResultCode)
	assert.Equal(t, "196.201.214.200", recs[1].RemoteAddr)
	assert.True(t, recs[1].ReceivedAt.Equal(first.Add(time.Minute)))
}

func TestListByPayment_Empty(t *testing.T) {
	a, cleanup := setupTestArchive(t)
	defer cleanup()

	recs, err := a.ListByPayment(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestConnectMongoDB_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	db, err := ConnectMongoDB(ctx, "mongodb://127.0.0.1:1", "testdb")
	require.Error(t, err)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "failed to ping MongoDB")
}
