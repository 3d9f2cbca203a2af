// Package archive stores raw inbound provider callbacks in MongoDB for audit.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Record is one received callback, kept verbatim.
type Record struct {
	PaymentID  string    `bson:"payment_id"`
	ReceivedAt time.Time `bson:"received_at"`
	RemoteAddr string    `bson:"remote_addr"`
	ResultCode *int      `bson:"result_code,omitempty"`
	Body       string    `bson:"body"`
}

type CallbackArchive struct {
	collection *mongo.Collection
}

func NewCallbackArchive(db *mongo.Database) *CallbackArchive {
	return &CallbackArchive{
		collection: db.Collection("mpesa_callbacks"),
	}
}

func (a *CallbackArchive) Save(ctx context.Context, rec Record) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if _, err := a.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to archive callback: %w", err)
	}
	return nil
}

// ListByPayment returns the callbacks received for a payment, oldest first.
func (a *CallbackArchive) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]Record, error) {
	filter := bson.M{"payment_id": paymentID.String()}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}})

	cur, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list callbacks: %w", err)
	}
	defer cur.Close(ctx)

	var out []Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode callbacks: %w", err)
	}
	return out, nil
}

func (a *CallbackArchive) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "payment_id", Value: 1}, {Key: "received_at", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "received_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(365 * 24 * 60 * 60), // 1 year TTL
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}
