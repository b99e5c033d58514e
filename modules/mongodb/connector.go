package mongodb

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const idField = "_id"

// Connector serves the collections of one MongoDB database.
type Connector struct {
	name  string
	store store
}

var (
	_ connector.Connector    = (*Connector)(nil)
	_ connector.RequestPacer = (*Connector)(nil)
)

// PacesRequests reports true: the find and every per-document write draw
// from the connection's budget.
func (c *Connector) PacesRequests() bool { return true }

func (c *Connector) TestConnection(ctx context.Context) (connector.Status, error) {
	if err := c.store.ping(ctx); err != nil {
		return connector.StatusFailed, fmt.Errorf("pinging %q: %w", c.name, err)
	}
	return connector.StatusSucceeded, nil
}

func (c *Connector) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	if err := node.Wait(ctx); err != nil {
		return nil, err
	}
	filter := buildFilter(input)
	ctxlog.FromContext(ctx).Debug("Running MongoDB find.", "node", node.Address.String(), "tuples", len(input.Tuples))

	docs, err := c.store.find(ctx, node.Collection.Name, filter, projection(node.Collection.FieldNames()))
	if err != nil {
		return nil, classify(node.Address, "query", err)
	}
	out := make([]record.Row, 0, len(docs))
	for _, doc := range docs {
		row := make(record.Row, len(doc))
		for k, v := range doc {
			row[k] = plain(v)
		}
		out = append(out, record.NormalizeRow(row))
	}
	return out, nil
}

// MaskOrErase updates or deletes each row by primary key and returns the
// number of documents matched.
func (c *Connector) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (int, error) {
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}
	affected := 0
	for _, ch := range changes {
		if err := node.Wait(ctx); err != nil {
			return affected, err
		}
		filter := keyFilter(ch.Key)
		var n int64
		if ch.Values == nil {
			n, err = c.store.deleteOne(ctx, node.Collection.Name, filter)
		} else {
			n, err = c.store.updateOne(ctx, node.Collection.Name, filter, bson.D{{Key: "$set", Value: sortedDoc(ch.Values)}})
		}
		if err != nil {
			return affected, classify(node.Address, "mask", err)
		}
		affected += int(n)
	}
	return affected, nil
}

func (c *Connector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return c.store.disconnect(ctx)
}

// buildFilter matches any tuple of the input. A single tuple is sent as a
// plain equality document.
func buildFilter(input record.Input) bson.D {
	clauses := make(bson.A, 0, len(input.Tuples))
	for _, tuple := range input.Tuples {
		doc := make(bson.D, 0, len(input.Fields))
		for i, f := range input.Fields {
			doc = append(doc, bson.E{Key: f, Value: toBSON(f, tuple[i])})
		}
		clauses = append(clauses, doc)
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.D)
	}
	return bson.D{{Key: "$or", Value: clauses}}
}

func keyFilter(key map[string]any) bson.D {
	doc := make(bson.D, 0, len(key))
	for _, k := range slices.Sorted(maps.Keys(key)) {
		doc = append(doc, bson.E{Key: k, Value: toBSON(k, key[k])})
	}
	return doc
}

func sortedDoc(values map[string]any) bson.D {
	doc := make(bson.D, 0, len(values))
	for _, k := range slices.Sorted(maps.Keys(values)) {
		doc = append(doc, bson.E{Key: k, Value: values[k]})
	}
	return doc
}

func projection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		doc = append(doc, bson.E{Key: f, Value: 1})
	}
	return doc
}

// toBSON turns hex strings back into ObjectIDs for the _id field, since rows
// carry ObjectIDs as strings.
func toBSON(field string, v any) any {
	if s, ok := v.(string); ok && field == idField {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return v
}

// plain converts driver types into the JSON-friendly values rows carry.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case bson.M:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = plain(val)
		}
		return out
	default:
		return v
	}
}

func classify(addr nodeid.Address, op string, err error) error {
	retryable := mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("RetryableWriteError") {
		retryable = true
	}
	return &privacyerr.ConnectorError{Address: addr, Op: op, Err: err, Retryable: retryable}
}
