// Package mongoclient implements the store client against a Mongo-protocol
// document store using the official driver.
package mongoclient

import (
	"context"
	"fmt"
	"time"

	"github.com/datapipelabs/changegate/storeclient"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout = 10 * time.Second
)

type ClientOptions struct {
	Logger *zap.Logger

	// Address is the host:port of the member to connect to.
	Address string

	Username string
	Password string

	// Direct pins the connection to Address instead of discovering the
	// replica set. Bootstrap needs this, the set may not exist yet.
	Direct bool

	ConnectTimeout time.Duration
	AppName        string

	// Compressors enables network compression, e.g. "snappy".
	Compressors []string
}

type Client struct {
	logger *zap.Logger
	client *mongo.Client
}

var _ storeclient.Client = (*Client)(nil)

func NewClient(ctx context.Context, opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = &ClientOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.Address == "" {
		return nil, fmt.Errorf("store address must be specified")
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}

	clientOpts := options.Client().
		ApplyURI(fmt.Sprintf("mongodb://%s/", opts.Address)).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	if opts.Direct {
		clientOpts = clientOpts.SetDirect(true)
	}
	if opts.AppName != "" {
		clientOpts = clientOpts.SetAppName(opts.AppName)
	}
	if opts.Username != "" {
		clientOpts = clientOpts.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}
	if len(opts.Compressors) > 0 {
		clientOpts = clientOpts.SetCompressors(opts.Compressors)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return &Client{
		logger: logger,
		client: client,
	}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx, readpref.PrimaryPreferred())
	if err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
