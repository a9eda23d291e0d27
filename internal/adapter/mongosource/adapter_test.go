package mongosource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/surrealdb/surreal-sync/internal/sync"
)

func TestIsStaleResumeTokenError(t *testing.T) {
	assert.False(t, isStaleResumeTokenError(nil))
	assert.False(t, isStaleResumeTokenError(errors.New("connection refused")))
	assert.True(t, isStaleResumeTokenError(errors.New("ChangeStreamHistoryLost: resume of change stream was not possible")))
	assert.True(t, isStaleResumeTokenError(errors.New("oplog entry no longer present")))
}

func TestIdFromBSONPrimitives(t *testing.T) {
	id, err := idFromBSON("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", id.Scalar.String)

	id, err = idFromBSON(int32(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), id.Scalar.Int64)

	oid := primitive.NewObjectID()
	id, err = idFromBSON(oid)
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), id.Scalar.String)
}

func TestBsonToValueConvertsObjectIDToHexString(t *testing.T) {
	oid := primitive.NewObjectID()
	v, err := bsonToValue(oid)
	require.NoError(t, err)
	assert.Equal(t, sync.KindString, v.Kind)
	assert.Equal(t, oid.Hex(), v.String)
}

func TestBsonToValueConvertsDBRefToRecordLink(t *testing.T) {
	ref := bson.M{"$ref": "accounts", "$id": "acct-1"}
	v, err := bsonToValue(ref)
	require.NoError(t, err)
	assert.Equal(t, sync.KindRecordLink, v.Kind)
	assert.Equal(t, "accounts", v.LinkTable)
	assert.Equal(t, "acct-1", v.LinkID.Scalar.String)
}

func TestBsonToValueConvertsMinMaxKeyToMarker(t *testing.T) {
	v, err := bsonToValue(primitive.MinKey{})
	require.NoError(t, err)
	assert.Equal(t, "MinKey", v.Object["$marker"].String)

	v, err = bsonToValue(primitive.MaxKey{})
	require.NoError(t, err)
	assert.Equal(t, "MaxKey", v.Object["$marker"].String)
}

func TestToChangeMapsDeleteAndUpsert(t *testing.T) {
	del, err := toChange(bson.M{
		"operationType": "delete",
		"ns":            bson.M{"coll": "accounts"},
		"documentKey":   bson.M{"_id": "acct-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, sync.OpDelete, del.Op)
	assert.Equal(t, "accounts", del.Table)

	upsert, err := toChange(bson.M{
		"operationType": "insert",
		"ns":            bson.M{"coll": "accounts"},
		"documentKey":   bson.M{"_id": "acct-1"},
		"fullDocument":  bson.M{"_id": "acct-1", "name": "acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, sync.OpUpsert, upsert.Op)
	assert.Equal(t, "acme", upsert.Record["name"].String)
	_, hasID := upsert.Record["_id"]
	assert.False(t, hasID)
}

func TestToChangeRejectsMissingDocumentKey(t *testing.T) {
	_, err := toChange(bson.M{
		"operationType": "insert",
		"ns":            bson.M{"coll": "accounts"},
		"documentKey":   bson.M{},
	})
	assert.Error(t, err)
}
