package service

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pkg/errors"
)

// callRecords maps Call Session Records onto relay documents.
type callRecords struct {
	relay port.RelayChannel
}

func (r callRecords) create(ctx context.Context) (domain.CallID, error) {
	id, err := r.relay.CreateDocument(ctx, domain.CallsCollection)
	if err != nil {
		return "", domain.RelayError("create call", err)
	}
	return domain.CallID(id), nil
}

func (r callRecords) get(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	fields, err := r.relay.GetDocument(ctx, domain.CallsCollection, id.String())
	if err != nil {
		return domain.CallRecord{}, domain.RelayError("get call", err)
	}
	if fields == nil {
		return domain.CallRecord{}, errors.Wrapf(domain.ErrCallNotFound, "call %s", id)
	}
	return decodeRecord(id, fields)
}

func (r callRecords) writeOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	err := r.relay.SetDocument(ctx, domain.CallsCollection, id.String(), domain.OfferFields(offer), false)
	return domain.RelayError("write offer", err)
}

// writeAnswer merges so the caller's offer is preserved.
func (r callRecords) writeAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error {
	err := r.relay.SetDocument(ctx, domain.CallsCollection, id.String(), domain.AnswerFields(answer), true)
	return domain.RelayError("write answer", err)
}

func (r callRecords) appendCandidate(ctx context.Context, id domain.CallID, sub string, c domain.Candidate) error {
	fields, err := c.Fields()
	if err != nil {
		return err
	}
	_, err = r.relay.AddToSubcollection(ctx, domain.CallsCollection, id.String(), sub, fields)
	return domain.RelayError("append candidate", err)
}

func (r callRecords) watch(ctx context.Context, id domain.CallID) (port.DocumentSubscription, error) {
	sub, err := r.relay.OnDocumentChange(ctx, domain.CallsCollection, id.String())
	if err != nil {
		return nil, domain.RelayError("watch call", err)
	}
	return sub, nil
}

func (r callRecords) watchCandidates(ctx context.Context, id domain.CallID, sub string) (port.CollectionSubscription, error) {
	s, err := r.relay.OnSubcollectionChange(ctx, domain.CallsCollection, id.String(), sub)
	if err != nil {
		return nil, domain.RelayError("watch "+sub, err)
	}
	return s, nil
}

func decodeRecord(id domain.CallID, fields domain.Fields) (domain.CallRecord, error) {
	rec, err := domain.CallRecordFromFields(id, fields)
	if err != nil {
		return domain.CallRecord{}, domain.EndpointError("decode call", err)
	}
	return rec, nil
}
