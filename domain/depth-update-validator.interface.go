package domain

import "errors"

var (
	// Counted by the synchronizer; after a threshold the book is rebuilt from a fresh snapshot.
	ErrOrderBookUpdateIsOutOfSequece = errors.New("order book update is out of sequece")
	// Dropped without touching the book.
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

// DepthUpdateValidator checks continuity of an update against the book's
// lastUpdateId before it is applied. A nil error means the update is valid.
type DepthUpdateValidator interface {
	IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error
}
