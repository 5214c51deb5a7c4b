package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RelayChannel is the document store the peers signal through.
//
// Subscriptions deliver the current state first (the existing snapshot of a
// document, or an added event per existing child), then every later write in
// write order. A subscription is released by Close or by cancelling the
// context it was opened with; Events is closed in both cases.
type RelayChannel interface {
	CreateDocument(ctx context.Context, collection string) (string, error)
	// GetDocument returns nil fields when the document does not exist.
	GetDocument(ctx context.Context, collection, id string) (domain.Fields, error)
	// SetDocument replaces the document, or merges top-level fields into it when merge is set.
	SetDocument(ctx context.Context, collection, id string, fields domain.Fields, merge bool) error
	AddToSubcollection(ctx context.Context, collection, id, sub string, record domain.Fields) (string, error)
	OnDocumentChange(ctx context.Context, collection, id string) (DocumentSubscription, error)
	OnSubcollectionChange(ctx context.Context, collection, id, sub string) (CollectionSubscription, error)
}

type DocumentSubscription interface {
	Events() <-chan domain.Fields
	// Err reports why the subscription ended, nil after a normal Close.
	Err() error
	Close()
}

type CollectionSubscription interface {
	Events() <-chan domain.DocumentChange
	Err() error
	Close()
}
