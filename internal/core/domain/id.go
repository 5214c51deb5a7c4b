package domain

import (
	"github.com/google/uuid"
)

// CallID identifies one Call Session Record. It is assigned by the relay.
type CallID string

func (id CallID) String() string {
	return string(id)
}

// NewDocumentID returns a fresh id for relay documents and child records.
func NewDocumentID() string {
	return uuid.New().String()
}

type Role string

const (
	RoleCaller   Role = "caller"
	RoleAnswerer Role = "answerer"
)

func (r Role) String() string {
	return string(r)
}

// LocalCandidates is the sub-collection this role appends its own candidates to.
func (r Role) LocalCandidates() string {
	if r == RoleCaller {
		return OfferCandidates
	}
	return AnswerCandidates
}

// RemoteCandidates is the sub-collection this role reads peer candidates from.
func (r Role) RemoteCandidates() string {
	if r == RoleCaller {
		return AnswerCandidates
	}
	return OfferCandidates
}
