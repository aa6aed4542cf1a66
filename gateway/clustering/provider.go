// Package clustering manages changegate's instance registry: each running
// instance joins as a member with its advertised metadata, and exactly one
// instance per stream key is elected to relay the change feed.
package clustering

import "context"

type Provider interface {
	Join(ctx context.Context, data *Member) (*Membership, error)

	Watch(ctx context.Context) (chan *Snapshot, error)
	Get(ctx context.Context) (*Snapshot, error)
}
