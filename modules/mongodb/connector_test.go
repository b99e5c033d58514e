package mongodb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/ratelimit"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type call struct {
	op         string
	collection string
	filter     bson.D
	update     bson.D
}

type fakeStore struct {
	mu    sync.Mutex
	docs  []bson.M
	calls []call
	err   error
}

func (f *fakeStore) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeStore) find(_ context.Context, coll string, filter, _ bson.D) ([]bson.M, error) {
	if err := f.record(call{op: "find", collection: coll, filter: filter}); err != nil {
		return nil, err
	}
	return f.docs, nil
}

func (f *fakeStore) updateOne(_ context.Context, coll string, filter, update bson.D) (int64, error) {
	return 1, f.record(call{op: "update", collection: coll, filter: filter, update: update})
}

func (f *fakeStore) deleteOne(_ context.Context, coll string, filter bson.D) (int64, error) {
	return 1, f.record(call{op: "delete", collection: coll, filter: filter})
}

func (f *fakeStore) ping(context.Context) error       { return f.err }
func (f *fakeStore) disconnect(context.Context) error { return nil }

func profilesNode() connector.Node {
	return connector.Node{
		Address: nodeid.New("mongo", "profiles"),
		Collection: &config.Collection{
			Name: "profiles",
			Fields: []*config.Field{
				{Name: "_id", PrimaryKey: true},
				{Name: "email", Identity: "email"},
				{Name: "tags"},
			},
		},
	}
}

func TestBuildFilter(t *testing.T) {
	testCases := []struct {
		name  string
		input record.Input
		want  bson.D
	}{
		{
			name:  "single tuple is a plain document",
			input: record.Single("email", "a@x.com"),
			want:  bson.D{{Key: "email", Value: "a@x.com"}},
		},
		{
			name:  "several tuples are or-ed",
			input: record.Input{Fields: []string{"email", "org"}, Tuples: [][]any{{"a@x.com", int64(1)}, {"b@x.com", int64(2)}}},
			want: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "email", Value: "a@x.com"}, {Key: "org", Value: int64(1)}},
				bson.D{{Key: "email", Value: "b@x.com"}, {Key: "org", Value: int64(2)}},
			}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, buildFilter(tc.input))
		})
	}
}

func TestQuery_ConvertsDriverValues(t *testing.T) {
	oid := primitive.NewObjectID()
	fs := &fakeStore{docs: []bson.M{{"_id": oid, "email": "a@x.com", "visits": int32(3), "tags": bson.A{"x", bson.M{"k": "v"}}}}}
	c := &Connector{name: "mongo", store: fs}

	rows, err := c.Query(testutil.Context(t), profilesNode(), record.Single("email", "a@x.com"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, oid.Hex(), rows[0]["_id"])
	assert.Equal(t, int64(3), rows[0]["visits"])
	assert.Equal(t, []any{"x", map[string]any{"k": "v"}}, rows[0]["tags"])
	assert.Equal(t, "profiles", fs.calls[0].collection)
}

func TestMaskOrErase_TargetsObjectIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	fs := &fakeStore{}
	c := &Connector{name: "mongo", store: fs}
	rows := []record.Row{{"_id": oid.Hex(), "email": "a@x.com"}}

	n, err := c.MaskOrErase(testutil.Context(t), profilesNode(), rows, connector.MaskingPlan{
		Strategy: masking.NullRewrite{}, Fields: []string{"email"}, PrimaryKeys: []string{"_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, fs.calls, 1)
	assert.Equal(t, "update", fs.calls[0].op)
	assert.Equal(t, bson.D{{Key: "_id", Value: oid}}, fs.calls[0].filter)
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "email", Value: nil}}}}, fs.calls[0].update)

	_, err = c.MaskOrErase(testutil.Context(t), profilesNode(), rows, connector.MaskingPlan{
		Strategy: masking.Delete{}, PrimaryKeys: []string{"_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, "delete", fs.calls[1].op)
}

func TestWritesDrawFromTheBudget(t *testing.T) {
	fs := &fakeStore{}
	c := &Connector{name: "mongo", store: fs}
	n := profilesNode()
	n.Limiter = ratelimit.New("mongo", []config.RateLimit{{Requests: 2, Period: time.Hour, Burst: 2}}, 10*time.Millisecond)
	rows := []record.Row{
		{"_id": primitive.NewObjectID().Hex()},
		{"_id": primitive.NewObjectID().Hex()},
		{"_id": primitive.NewObjectID().Hex()},
	}

	affected, err := c.MaskOrErase(testutil.Context(t), n, rows, connector.MaskingPlan{
		Strategy: masking.Delete{}, PrimaryKeys: []string{"_id"},
	})

	var rl *privacyerr.RateLimitTimeout
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 2, affected)
	assert.Len(t, fs.calls, 2)

	_, err = c.Query(testutil.Context(t), n, record.Single("email", "a@x.com"))
	require.ErrorAs(t, err, &rl)
	assert.Len(t, fs.calls, 2, "no find once the budget is spent")
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		wantRetryable bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, wantRetryable: true},
		{name: "retryable write label", err: mongo.CommandError{Code: 91, Labels: []string{"RetryableWriteError"}}, wantRetryable: true},
		{name: "plain command error", err: mongo.CommandError{Code: 2, Message: "bad value"}},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{err: tc.err}
			c := &Connector{name: "mongo", store: fs}
			_, err := c.Query(testutil.Context(t), profilesNode(), record.Single("email", "a@x.com"))
			var ce *privacyerr.ConnectorError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.wantRetryable, ce.Retryable)
		})
	}
}

func TestFactory_RequiresParams(t *testing.T) {
	_, err := newConnector(context.Background(), &config.Connection{Name: "mongo", Kind: Kind, Params: map[string]string{"uri": "mongodb://localhost"}})
	var ve *privacyerr.ValidationError
	require.ErrorAs(t, err, &ve)
}
