package state

import "context"

// Store is the conversation state contract, keyed by user id.
//
// Get returns (nil, nil) when no record exists. Append,
// ReplaceTurnContent and FilterByRole return ErrNotFound for a missing
// user; Reset and RemoveTurn are no-ops on missing records or
// out-of-range indexes. Every mutating operation refreshes the sliding
// TTL measured from the time of the call.
type Store interface {
	Get(ctx context.Context, userID string) (*ChatState, error)
	CreateOrReplace(ctx context.Context, st *ChatState) error
	Reset(ctx context.Context, userID string) error
	Append(ctx context.Context, userID string, turn Turn) error
	ReplaceTurnContent(ctx context.Context, userID string, index int, text string) error
	RemoveTurn(ctx context.Context, userID string, index int) error
	FilterByRole(ctx context.Context, userID string, role Role) ([]Turn, error)
}
