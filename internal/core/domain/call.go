package domain

import (
	"github.com/pkg/errors"
)

const (
	CallsCollection  = "calls"
	OfferCandidates  = "offerCandidates"
	AnswerCandidates = "answerCandidates"
)

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

func NewSessionDescription(t SDPType, sdp string) SessionDescription {
	return SessionDescription{
		Type: t,
		SDP:  sdp,
	}
}

func (d SessionDescription) Validate(want SDPType) error {
	if d.Type != want {
		return errors.Errorf("session description has type %q, want %q", d.Type, want)
	}
	if d.SDP == "" {
		return errors.Errorf("%s has empty sdp", want)
	}
	return nil
}

// Candidate is a reachability candidate as a flat mapping of primitive fields.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func (c Candidate) Fields() (Fields, error) {
	return ToFields(c)
}

func CandidateFromFields(f Fields) (Candidate, error) {
	var c Candidate
	if err := f.Decode(&c); err != nil {
		return Candidate{}, err
	}
	if c.Candidate == "" {
		return Candidate{}, errors.New("candidate record missing candidate")
	}
	return c, nil
}

// CallRecord is the relay document for one call.
type CallRecord struct {
	ID     CallID              `json:"id"`
	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

func CallRecordFromFields(id CallID, f Fields) (CallRecord, error) {
	rec := CallRecord{ID: id}
	var body struct {
		Offer  *SessionDescription `json:"offer"`
		Answer *SessionDescription `json:"answer"`
	}
	if err := f.Decode(&body); err != nil {
		return CallRecord{}, err
	}
	if body.Offer != nil {
		if err := body.Offer.Validate(SDPTypeOffer); err != nil {
			return CallRecord{}, err
		}
		rec.Offer = body.Offer
	}
	if body.Answer != nil {
		if err := body.Answer.Validate(SDPTypeAnswer); err != nil {
			return CallRecord{}, err
		}
		rec.Answer = body.Answer
	}
	return rec, nil
}

// OfferFields is the write that publishes the caller's offer.
func OfferFields(d SessionDescription) Fields {
	return Fields{"offer": map[string]any{"sdp": d.SDP, "type": string(d.Type)}}
}

// AnswerFields is the partial update that publishes the answerer's answer.
func AnswerFields(d SessionDescription) Fields {
	return Fields{"answer": map[string]any{"sdp": d.SDP, "type": string(d.Type)}}
}

type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
}
