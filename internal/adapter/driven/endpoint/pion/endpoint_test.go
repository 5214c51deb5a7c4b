package pion

import (
	"context"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateConversionKeepsAllFields(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	ufrag := "abcd"
	init := webrtc.ICECandidateInit{
		Candidate:        "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:           &mid,
		SDPMLineIndex:    &idx,
		UsernameFragment: &ufrag,
	}

	c := candidateFromPion(init)
	assert.Equal(t, init.Candidate, c.Candidate)
	assert.Equal(t, init, candidateToPion(c))

	fields, err := c.Fields()
	require.NoError(t, err)
	back, err := domain.CandidateFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, init, candidateToPion(back))
}

func TestDescriptionToPionRejectsUnknownType(t *testing.T) {
	_, err := descriptionToPion(domain.SessionDescription{Type: "pranswer", SDP: "v=0"})
	assert.Error(t, err)

	d, err := descriptionToPion(domain.NewSessionDescription(domain.SDPTypeAnswer, "v=0"))
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, d.Type)
}

func TestEndpointOfferCarriesAudioAndVideo(t *testing.T) {
	e, err := NewEndpoint(nil, Config{})
	require.NoError(t, err)
	defer e.Close()

	offer, err := e.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
}

func TestEndpointsNegotiateThroughRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api, err := NewAPI()
	require.NoError(t, err)
	caller, err := NewEndpoint(api, Config{})
	require.NoError(t, err)
	answerer, err := NewEndpoint(api, Config{})
	require.NoError(t, err)

	relay := memory.NewRelay()
	defer relay.Close()
	svc := service.NewCallService(relay)
	defer svc.Close()

	started, err := svc.StartCall(ctx, caller)
	require.NoError(t, err)
	joined, err := svc.JoinCall(ctx, started.ID(), answerer)
	require.NoError(t, err)

	require.NoError(t, joined.AwaitNegotiated(ctx))
	require.NoError(t, started.AwaitNegotiated(ctx))

	assert.Equal(t, webrtc.SignalingStateStable, caller.PeerConnection().SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, answerer.PeerConnection().SignalingState())

	fields, err := relay.GetDocument(ctx, domain.CallsCollection, started.ID().String())
	require.NoError(t, err)
	rec, err := domain.CallRecordFromFields(started.ID(), fields)
	require.NoError(t, err)
	require.NotNil(t, rec.Offer)
	require.NotNil(t, rec.Answer)
	assert.Contains(t, rec.Offer.SDP, "m=audio")
	assert.Contains(t, rec.Answer.SDP, "m=video")
}
