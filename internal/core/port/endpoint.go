package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// ConnectionEndpoint wraps one peer-to-peer transport session.
type ConnectionEndpoint interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	// SetLocalDescription starts local candidate discovery.
	SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddRemoteCandidate(ctx context.Context, c domain.Candidate) error
	// OnLocalCandidate registers the handler for discovered candidates. A nil
	// candidate marks the end of discovery.
	OnLocalCandidate(fn func(c *domain.Candidate))
	OnRemoteTrack(fn func(t domain.RemoteTrack))
	Close() error
}
