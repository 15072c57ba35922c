package db

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to the given URI and pings the deployment.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to '%s'", uri)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "pinging deployment")
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "disconnecting client")
}

func (s *MongoStore) Insert(ctx context.Context, collection string, doc Document, opts *StoreOptions) (Document, error) {
	res, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, errors.Wrap(err, "inserting document")
	}
	stored := doc.Copy()
	stored["_id"] = res.InsertedID
	return stored, nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, filter Document, opts *StoreOptions) (DocumentList, error) {
	findOpts := options.Find()
	if opts != nil {
		if opts.Limit > 0 {
			findOpts.SetLimit(int64(opts.Limit))
		}
		if opts.Skip > 0 {
			findOpts.SetSkip(int64(opts.Skip))
		}
		if len(opts.Sort) > 0 {
			sort := bson.D{}
			for field, dir := range opts.Sort {
				sort = append(sort, bson.E{Key: field, Value: dir})
			}
			findOpts.SetSort(sort)
		}
		if c := collationOpt(opts); c != nil {
			findOpts.SetCollation(c)
		}
	}
	cursor, err := s.db.Collection(collection).Find(ctx, normalizeFilter(filter), findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "finding documents")
	}
	out := DocumentList{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decoding documents")
	}
	return out, nil
}

func (s *MongoStore) Update(ctx context.Context, collection string, filter, patch Document, opts *StoreOptions) (Document, error) {
	updateOpts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if opts != nil && opts.Upsert {
		updateOpts.SetUpsert(true)
	}
	res := s.db.Collection(collection).FindOneAndUpdate(ctx, normalizeFilter(filter), patch, updateOpts)
	return decodeSingle(res, "updating document")
}

func (s *MongoStore) Replace(ctx context.Context, collection string, filter, replacement Document, opts *StoreOptions) (Document, error) {
	replaceOpts := options.FindOneAndReplace().SetReturnDocument(options.After)
	if opts != nil && opts.Upsert {
		replaceOpts.SetUpsert(true)
	}
	res := s.db.Collection(collection).FindOneAndReplace(ctx, normalizeFilter(filter), replacement, replaceOpts)
	return decodeSingle(res, "replacing document")
}

func (s *MongoStore) Delete(ctx context.Context, collection string, filter Document, opts *StoreOptions) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, normalizeFilter(filter))
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) DeleteMany(ctx context.Context, collection string, filter Document, opts *StoreOptions) (int, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, normalizeFilter(filter))
	if err != nil {
		return 0, errors.Wrap(err, "deleting documents")
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) Count(ctx context.Context, collection string, filter Document) (int, error) {
	count, err := s.db.Collection(collection).CountDocuments(ctx, normalizeFilter(filter))
	return int(count), errors.Wrap(err, "counting documents")
}

func decodeSingle(res *mongo.SingleResult, op string) (Document, error) {
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, op)
	}
	out := Document{}
	if err := res.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decoding result while %s", op)
	}
	return out, nil
}

func collationOpt(opts *StoreOptions) *options.Collation {
	if opts.Collation == nil || opts.Collation.Locale == "" {
		return nil
	}
	return &options.Collation{
		Locale:          opts.Collation.Locale,
		Strength:        opts.Collation.Strength,
		CaseLevel:       opts.Collation.CaseLevel,
		NumericOrdering: opts.Collation.NumericOrdering,
	}
}

// normalizeFilter keeps the driver happy when a nil filter means "match all".
func normalizeFilter(filter Document) any {
	if filter == nil {
		return bson.M{}
	}
	return filter
}
