package batch_test

import (
	"testing"

	"github.com/dalemusser/respondentpro/internal/app/system/batch"
	"github.com/dalemusser/respondentpro/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestChunks(t *testing.T) {
	items := make([]int, 1201)
	for i := range items {
		items[i] = i
	}

	chunks := batch.Chunks(items, batch.MaxOps)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 201)
	assert.Equal(t, 1200, chunks[2][200])
}

func TestChunks_Empty(t *testing.T) {
	assert.Nil(t, batch.Chunks([]string{}, 10))
}

func TestChunks_DefaultSize(t *testing.T) {
	chunks := batch.Chunks(make([]int, 501), 0)
	assert.Len(t, chunks, 2)
}

func TestChunks_AppendDoesNotClobber(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := batch.Chunks(items, 2)
	_ = append(chunks[0], 99)
	assert.Equal(t, 3, chunks[1][0])
}

func TestWrite(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	coll := db.Collection("batch_test")
	models := make([]mongo.WriteModel, 0, 1100)
	for i := 0; i < 1100; i++ {
		models = append(models, mongo.NewInsertOneModel().SetDocument(bson.M{"n": i}))
	}

	res, err := batch.Write(ctx, coll, models)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.EqualValues(t, 1100, res.Inserted)

	n, err := coll.CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 1100, n)
}
