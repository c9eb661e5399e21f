package domain

import "context"

// SnapshotFetcher loads a full depth snapshot over the exchange REST API.
type SnapshotFetcher interface {
	OrderBookSnapshot(ctx context.Context, key PairKey, limit int) (*OrderBookSnapshot, error)
}

// DiffTransport opens diff streams for a pair and decodes their frames.
type DiffTransport interface {
	DepthDiffStream(ctx context.Context, key PairKey) (DiffStream, error)
	DecodeUpdate(msg []byte) (*OrderBookUpdate, error)
}

// DiffStream is one open connection. Read blocks until the next frame or a
// transport failure. Ping sends a liveness probe and fails when the peer has
// gone quiet for too long. Close unblocks a pending Read.
type DiffStream interface {
	Read() ([]byte, error)
	Ping() error
	Close() error
}
