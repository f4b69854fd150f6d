package database

import (
	"context"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const stateCollection = "state"

func NewMongoDBConnection(dbUri string) (*mongo.Client, error) {
	ctx := context.Background()
	clientOptions := options.Client().ApplyURI(dbUri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}

	return client, nil
}

type kvDoc struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"value"`
}

type mongoKV struct {
	client *mongo.Client
	state  *mongo.Collection
}

// NewMongoKV stores every key as one document of the state collection.
func NewMongoKV(client *mongo.Client, database string) KV {
	return &mongoKV{
		client: client,
		state:  client.Database(database).Collection(stateCollection),
	}
}

func keyFilter(key []byte) bson.D {
	return bson.D{{Key: "_id", Value: string(key)}}
}

func (m *mongoKV) Get(key []byte) ([]byte, error) {
	var doc kvDoc
	err := m.state.FindOne(context.TODO(), keyFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (m *mongoKV) Has(key []byte) (bool, error) {
	n, err := m.state.CountDocuments(context.TODO(), keyFilter(key), options.Count().SetLimit(1))
	return n > 0, err
}

func (m *mongoKV) Put(key, value []byte) error {
	_, err := m.state.ReplaceOne(
		context.TODO(),
		keyFilter(key),
		kvDoc{Key: string(key), Value: value},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *mongoKV) Delete(key []byte) error {
	_, err := m.state.DeleteOne(context.TODO(), keyFilter(key))
	return err
}

func (m *mongoKV) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	ctx := context.TODO()
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(string(prefix))}}}}
	cursor, err := m.state.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc kvDoc
		if err := cursor.Decode(&doc); err != nil {
			return err
		}
		if err := fn([]byte(doc.Key), doc.Value); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Write sends the batch as one ordered bulk write.
func (m *mongoKV) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, batch.Len())
	for _, op := range batch.ops {
		if op.delete {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(keyFilter(op.key)))
			continue
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(keyFilter(op.key)).
			SetReplacement(kvDoc{Key: string(op.key), Value: op.value}).
			SetUpsert(true))
	}
	_, err := m.state.BulkWrite(context.TODO(), models, options.BulkWrite().SetOrdered(true))
	return err
}

func (m *mongoKV) Close() error {
	return m.client.Disconnect(context.TODO())
}
