package pion

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// ICEServers are STUN/TURN urls.
	ICEServers           []string
	ICECandidatePoolSize uint8
	// LocalTracks are sent to the peer. Without any, the endpoint only
	// receives audio and video.
	LocalTracks []webrtc.TrackLocal
}

// NewAPI returns a pion API with the default codecs registered.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

// Endpoint is a Connection Endpoint backed by a pion PeerConnection.
type Endpoint struct {
	pc *webrtc.PeerConnection

	mu          sync.RWMutex
	onCandidate func(*domain.Candidate)
	onTrack     func(domain.RemoteTrack)
}

var _ port.ConnectionEndpoint = (*Endpoint)(nil)

func NewEndpoint(api *webrtc.API, cfg Config) (*Endpoint, error) {
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:           servers,
		ICECandidatePoolSize: cfg.ICECandidatePoolSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}

	if len(cfg.LocalTracks) == 0 {
		// Recv-only transceivers so the offer carries audio and video m-lines.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, errors.Wrapf(err, "add %s transceiver", kind)
			}
		}
	}
	for _, t := range cfg.LocalTracks {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			return nil, errors.Wrapf(err, "add track %s", t.ID())
		}
	}

	e := &Endpoint{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		e.mu.RLock()
		cb := e.onCandidate
		e.mu.RUnlock()
		if cb == nil {
			return
		}
		if c == nil {
			cb(nil)
			return
		}
		cand := candidateFromPion(c.ToJSON())
		cb(&cand)
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Msg("Received remote track")
		e.mu.RLock()
		cb := e.onTrack
		e.mu.RUnlock()
		if cb != nil {
			cb(domain.RemoteTrack{
				ID:       remote.ID(),
				StreamID: remote.StreamID(),
				Kind:     remote.Kind().String(),
				Codec:    remote.Codec().MimeType,
			})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("state", s.String()).Msg("Peer connection state changed")
	})

	return e, nil
}

// PeerConnection exposes the underlying connection for media wiring.
func (e *Endpoint) PeerConnection() *webrtc.PeerConnection {
	return e.pc
}

func (e *Endpoint) OnLocalCandidate(fn func(c *domain.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnRemoteTrack(fn func(t domain.RemoteTrack)) {
	e.mu.Lock()
	e.onTrack = fn
	e.mu.Unlock()
}

func (e *Endpoint) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return descriptionFromPion(offer), nil
}

func (e *Endpoint) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return descriptionFromPion(answer), nil
}

func (e *Endpoint) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return e.pc.SetLocalDescription(d)
}

func (e *Endpoint) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := descriptionToPion(desc)
	if err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(d)
}

func (e *Endpoint) AddRemoteCandidate(ctx context.Context, c domain.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.AddICECandidate(candidateToPion(c))
}

func (e *Endpoint) Close() error {
	return e.pc.Close()
}

func descriptionFromPion(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.NewSessionDescription(domain.SDPType(d.Type.String()), d.SDP)
}

func descriptionToPion(d domain.SessionDescription) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case domain.SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case domain.SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, errors.Errorf("unsupported sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func candidateFromPion(init webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func candidateToPion(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
