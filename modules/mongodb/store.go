package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// store is the subset of the driver the connector uses.
type store interface {
	find(ctx context.Context, collection string, filter bson.D, projection bson.D) ([]bson.M, error)
	updateOne(ctx context.Context, collection string, filter bson.D, update bson.D) (int64, error)
	deleteOne(ctx context.Context, collection string, filter bson.D) (int64, error)
	ping(ctx context.Context) error
	disconnect(ctx context.Context) error
}

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func connect(ctx context.Context, uri, database string) (*mongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &mongoStore{client: client, db: client.Database(database)}, nil
}

func (s *mongoStore) find(ctx context.Context, collection string, filter, projection bson.D) ([]bson.M, error) {
	opts := options.Find()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *mongoStore) updateOne(ctx context.Context, collection string, filter, update bson.D) (int64, error) {
	res, err := s.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *mongoStore) deleteOne(ctx context.Context, collection string, filter bson.D) (int64, error) {
	res, err := s.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
