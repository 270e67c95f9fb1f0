// Package mesh is the boundary to the peer-to-peer store. The mesh is
// untrusted and unordered: Put gives no acknowledgement and Once is a point
// in time read with no ordering guarantee against concurrent writers.
package mesh

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("mesh unavailable")

type Transport interface {
	// Put hands value to the mesh. A nil error only means it was sent.
	Put(ctx context.Context, key string, value []byte) error
	// Once reads the value currently visible for key.
	Once(ctx context.Context, key string) ([]byte, bool, error)
}
