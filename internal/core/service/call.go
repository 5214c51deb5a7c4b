package service

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type sessionKey struct {
	id   domain.CallID
	role domain.Role
}

// CallService negotiates calls through the relay: StartCall for the caller,
// JoinCall for the answerer. It imposes no timeouts of its own.
type CallService struct {
	records callRecords

	mu       sync.Mutex
	sessions map[sessionKey]*CallSession
}

func NewCallService(relay port.RelayChannel) *CallService {
	return &CallService{
		records:  callRecords{relay: relay},
		sessions: make(map[sessionKey]*CallSession),
	}
}

// StartCall creates a call record, publishes the offer and starts watching for
// the answer and the answerer's candidates. The returned session's ID is what
// the answerer needs.
func (s *CallService) StartCall(ctx context.Context, endpoint port.ConnectionEndpoint) (*CallSession, error) {
	id, err := s.records.create(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := s.register(id, domain.RoleCaller, endpoint)
	if err != nil {
		return nil, err
	}
	sess.l.Info().Msg("Call created")

	if err := s.offer(ctx, sess); err != nil {
		_ = sess.Hangup()
		return nil, err
	}
	return sess, nil
}

func (s *CallService) offer(ctx context.Context, sess *CallSession) error {
	ctx, cancel := sess.stepContext(ctx)
	defer cancel()

	sess.listenLocalCandidates()

	if err := sess.active(); err != nil {
		return err
	}
	offer, err := sess.endpoint.CreateOffer(ctx)
	if err != nil {
		return sess.stepErr(domain.EndpointError("create offer", err))
	}
	if err := sess.active(); err != nil {
		return err
	}
	if err := sess.endpoint.SetLocalDescription(ctx, offer); err != nil {
		return sess.stepErr(domain.EndpointError("set local description", err))
	}
	if err := sess.active(); err != nil {
		return err
	}
	if err := s.records.writeOffer(ctx, sess.id, offer); err != nil {
		return sess.stepErr(err)
	}
	sess.l.Info().Msg("Offer published")

	doc, err := s.records.watch(sess.ctx, sess.id)
	if err != nil {
		return err
	}
	if err := sess.track(doc); err != nil {
		return err
	}
	go sess.watchAnswer(doc)

	return s.watchRemoteCandidates(sess)
}

// JoinCall answers the call with the given id. The record must already carry
// an offer and no answer; otherwise nothing is written and the endpoint is
// left untouched.
func (s *CallService) JoinCall(ctx context.Context, id domain.CallID, endpoint port.ConnectionEndpoint) (*CallSession, error) {
	if id == "" {
		return nil, errors.Wrap(domain.ErrCallNotFound, "empty call id")
	}
	rec, err := s.records.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Offer == nil {
		return nil, errors.Wrapf(domain.ErrCallNotReady, "call %s has no offer", id)
	}
	if rec.Answer != nil {
		return nil, errors.Wrapf(domain.ErrCallAlreadyAnswered, "call %s", id)
	}

	sess, err := s.register(id, domain.RoleAnswerer, endpoint)
	if err != nil {
		return nil, err
	}
	sess.l.Info().Msg("Joining call")

	if err := s.answer(ctx, sess, *rec.Offer); err != nil {
		_ = sess.Hangup()
		return nil, err
	}
	return sess, nil
}

func (s *CallService) answer(ctx context.Context, sess *CallSession, offer domain.SessionDescription) error {
	ctx, cancel := sess.stepContext(ctx)
	defer cancel()

	sess.listenLocalCandidates()

	if _, err := sess.applyRemoteDescription(ctx, offer); err != nil {
		return sess.stepErr(err)
	}

	if err := sess.active(); err != nil {
		return err
	}
	answer, err := sess.endpoint.CreateAnswer(ctx)
	if err != nil {
		return sess.stepErr(domain.EndpointError("create answer", err))
	}
	if err := sess.active(); err != nil {
		return err
	}
	if err := sess.endpoint.SetLocalDescription(ctx, answer); err != nil {
		return sess.stepErr(domain.EndpointError("set local description", err))
	}
	if err := sess.active(); err != nil {
		return err
	}
	if err := s.records.writeAnswer(ctx, sess.id, answer); err != nil {
		return sess.stepErr(err)
	}
	sess.l.Info().Msg("Answer published")

	return s.watchRemoteCandidates(sess)
}

func (s *CallService) watchRemoteCandidates(sess *CallSession) error {
	sub, err := s.records.watchCandidates(sess.ctx, sess.id, sess.role.RemoteCandidates())
	if err != nil {
		return err
	}
	if err := sess.track(sub); err != nil {
		return err
	}
	go sess.watchRemoteCandidates(sub)
	return nil
}

func (s *CallService) register(id domain.CallID, role domain.Role, endpoint port.ConnectionEndpoint) (*CallSession, error) {
	key := sessionKey{id: id, role: role}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; ok {
		return nil, errors.Wrapf(domain.ErrAlreadyJoined, "call %s as %s", id, role)
	}
	var sess *CallSession
	sess = newCallSession(id, role, endpoint, s.records, func() {
		s.mu.Lock()
		if s.sessions[key] == sess {
			delete(s.sessions, key)
		}
		s.mu.Unlock()
	})
	s.sessions[key] = sess
	return sess, nil
}

func (s *CallService) Session(id domain.CallID, role domain.Role) (*CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{id: id, role: role}]
	return sess, ok
}

// Hangup ends the tracked session for id and role, if any.
func (s *CallService) Hangup(id domain.CallID, role domain.Role) error {
	sess, ok := s.Session(id, role)
	if !ok {
		return nil
	}
	return sess.Hangup()
}

// Close hangs up every tracked session.
func (s *CallService) Close() {
	s.mu.Lock()
	sessions := make([]*CallSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Hangup(); err != nil {
			log.Error().Err(err).Str("call_id", sess.id.String()).Msg("Error hanging up call")
		}
	}
}
