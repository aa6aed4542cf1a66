package mongoclient

import (
	"context"
	"fmt"
	"time"

	"github.com/datapipelabs/changegate/feed"
	"github.com/datapipelabs/changegate/storeclient"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func (c *Client) OpenChangeFeed(ctx context.Context, opts *storeclient.ChangeFeedOptions) (storeclient.ChangeFeed, error) {
	pipeline := mongo.Pipeline{}
	if opts.InsertsOnly {
		pipeline = append(pipeline, bson.D{
			{Key: "$match", Value: bson.D{
				{Key: "operationType", Value: "insert"},
			}},
		})
	}

	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if !opts.ResumeAfter.IsZero() {
		csOpts = csOpts.SetResumeAfter(bson.D{
			{Key: "_data", Value: string(opts.ResumeAfter)},
		})
	}

	coll := c.client.Database(opts.Database).Collection(opts.Collection)
	stream, err := coll.Watch(ctx, pipeline, csOpts)
	if err != nil {
		return nil, mapStoreError(err)
	}

	c.logger.Debug("opened change feed",
		zap.String("database", opts.Database),
		zap.String("collection", opts.Collection),
		zap.Bool("resuming", !opts.ResumeAfter.IsZero()))

	return &changeFeed{
		logger: c.logger,
		stream: stream,
	}, nil
}

type changeFeed struct {
	logger *zap.Logger
	stream *mongo.ChangeStream
	closed bool
}

var _ storeclient.ChangeFeed = (*changeFeed)(nil)

type changeNamespace struct {
	Database   string `bson:"db"`
	Collection string `bson:"coll"`
}

type changeDocument struct {
	OperationType string              `bson:"operationType"`
	FullDocument  bson.Raw            `bson:"fullDocument"`
	DocumentKey   bson.Raw            `bson:"documentKey"`
	Namespace     changeNamespace     `bson:"ns"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
}

func (f *changeFeed) Next(ctx context.Context) (*feed.RawChange, error) {
	if f.closed {
		return nil, storeclient.ErrFeedClosed
	}

	if !f.stream.Next(ctx) {
		if err := f.stream.Err(); err != nil {
			return nil, mapStoreError(err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, storeclient.ErrFeedClosed
	}

	var doc changeDocument
	if err := f.stream.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}

	// The post-batch token positions a new feed just after this change.
	token := feed.Token(f.stream.ResumeToken().Lookup("_data").StringValue())

	var payload map[string]interface{}
	if len(doc.FullDocument) > 0 {
		if err := bson.Unmarshal(doc.FullDocument, &payload); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
	}

	return &feed.RawChange{
		Token:       token,
		Operation:   doc.OperationType,
		Collection:  doc.Namespace.Collection,
		DocumentID:  documentID(doc.DocumentKey),
		Document:    payload,
		ClusterTime: time.Unix(int64(doc.ClusterTime.T), 0).UTC(),
	}, nil
}

func (f *changeFeed) Close(ctx context.Context) error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.stream.Close(ctx)
}

func documentID(key bson.Raw) string {
	idVal, err := key.LookupErr("_id")
	if err != nil {
		return ""
	}

	switch idVal.Type {
	case bson.TypeObjectID:
		return idVal.ObjectID().Hex()
	case bson.TypeString:
		return idVal.StringValue()
	}

	// Exotic key types render as extended JSON.
	return idVal.String()
}
