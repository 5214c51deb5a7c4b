package service

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const localCandidateBuffer = 64

type closer interface {
	Close()
}

// CallSession is one role's side of one call.
type CallSession struct {
	id       domain.CallID
	role     domain.Role
	endpoint port.ConnectionEndpoint
	records  callRecords
	l        zerolog.Logger
	onClose  func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	localCandidates chan domain.Candidate

	mu            sync.Mutex
	remoteApplied bool
	pending       []domain.Candidate
	seen          map[string]struct{}
	subs          []closer
	hung          bool
	err           error

	negotiated chan struct{}
	failed     chan struct{}
	done       chan struct{}
}

func newCallSession(id domain.CallID, role domain.Role, endpoint port.ConnectionEndpoint, records callRecords, onClose func()) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &CallSession{
		id:              id,
		role:            role,
		endpoint:        endpoint,
		records:         records,
		l:               log.With().Str("call_id", id.String()).Str("role", role.String()).Logger(),
		onClose:         onClose,
		ctx:             ctx,
		cancel:          cancel,
		localCandidates: make(chan domain.Candidate, localCandidateBuffer),
		seen:            make(map[string]struct{}),
		negotiated:      make(chan struct{}),
		failed:          make(chan struct{}),
		done:            make(chan struct{}),
	}
}

func (s *CallSession) ID() domain.CallID { return s.id }
func (s *CallSession) Role() domain.Role { return s.role }

// Negotiated is closed once the remote description has been applied.
func (s *CallSession) Negotiated() <-chan struct{} { return s.negotiated }

// Failed is closed on the first asynchronous failure; Err returns it.
func (s *CallSession) Failed() <-chan struct{} { return s.failed }

// Done is closed by Hangup.
func (s *CallSession) Done() <-chan struct{} { return s.done }

func (s *CallSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// AwaitNegotiated blocks until the remote description is applied. The
// deadline is the caller's: when ctx ends first the error is ErrCallTimedOut.
func (s *CallSession) AwaitNegotiated(ctx context.Context) error {
	select {
	case <-s.negotiated:
		return nil
	default:
	}
	select {
	case <-s.negotiated:
		return nil
	case <-s.failed:
		return s.Err()
	case <-s.done:
		return errors.Wrapf(domain.ErrHungUp, "call %s", s.id)
	case <-ctx.Done():
		return &domain.OpError{Kind: domain.ErrCallTimedOut, Op: "await negotiation", Err: ctx.Err()}
	}
}

// Hangup releases every relay subscription and closes the endpoint. It is
// safe to call from any state and more than once.
func (s *CallSession) Hangup() error {
	s.mu.Lock()
	if s.hung {
		s.mu.Unlock()
		return nil
	}
	s.hung = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Close()
	}
	s.wg.Wait()

	err := s.endpoint.Close()
	close(s.done)
	if s.onClose != nil {
		s.onClose()
	}
	s.l.Info().Msg("Call hung up")
	if err != nil {
		return domain.EndpointError("close endpoint", err)
	}
	return nil
}

// active fails with ErrHungUp once Hangup has started.
func (s *CallSession) active() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		return errors.Wrapf(domain.ErrHungUp, "call %s", s.id)
	}
	return nil
}

// stepContext is ctx cut short by Hangup, for the setup steps of StartCall
// and JoinCall.
func (s *CallSession) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	step, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return step, func() {
		stop()
		cancel()
	}
}

// stepErr reports a setup step failure as ErrHungUp when Hangup caused it.
func (s *CallSession) stepErr(err error) error {
	if herr := s.active(); herr != nil {
		return herr
	}
	return err
}

// listenLocalCandidates must run before SetLocalDescription, which starts discovery.
func (s *CallSession) listenLocalCandidates() {
	s.endpoint.OnLocalCandidate(s.handleLocalCandidate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		return
	}
	s.wg.Add(1)
	go s.publishLocalCandidates()
}

func (s *CallSession) handleLocalCandidate(c *domain.Candidate) {
	if c == nil {
		s.l.Debug().Msg("Local candidate discovery complete")
		return
	}
	select {
	case s.localCandidates <- *c:
	case <-s.ctx.Done():
	}
}

func (s *CallSession) publishLocalCandidates() {
	defer s.wg.Done()
	sub := s.role.LocalCandidates()
	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-s.localCandidates:
			if err := s.records.appendCandidate(s.ctx, s.id, sub, c); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.fail(err)
				continue
			}
			s.l.Debug().Str("candidate", c.Candidate).Msg("Published local candidate")
		}
	}
}

// track hands sub to Hangup and counts its watcher goroutine, which the
// caller starts on success.
func (s *CallSession) track(sub closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		sub.Close()
		return errors.Wrapf(domain.ErrHungUp, "call %s", s.id)
	}
	s.subs = append(s.subs, sub)
	s.wg.Add(1)
	return nil
}

// applyRemoteDescription sets the remote description at most once; later
// calls are no-ops. Candidates queued while it was unknown are flushed in
// arrival order.
func (s *CallSession) applyRemoteDescription(ctx context.Context, desc domain.SessionDescription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		return false, errors.Wrapf(domain.ErrHungUp, "call %s", s.id)
	}
	if s.remoteApplied {
		return false, nil
	}
	if err := s.endpoint.SetRemoteDescription(ctx, desc); err != nil {
		return false, domain.EndpointError("set remote description", err)
	}
	s.remoteApplied = true
	close(s.negotiated)
	s.l.Info().Str("type", string(desc.Type)).Msg("Remote description applied")

	// A rejected candidate does not stop the rest of the queue.
	pending := s.pending
	s.pending = nil
	var firstErr error
	for _, c := range pending {
		if err := s.endpoint.AddRemoteCandidate(ctx, c); err != nil {
			s.l.Warn().Err(err).Str("candidate", c.Candidate).Msg("Queued remote candidate rejected")
			if firstErr == nil {
				firstErr = domain.EndpointError("add remote candidate", err)
			}
		}
	}
	return true, firstErr
}

func (s *CallSession) addRemoteCandidate(ctx context.Context, id string, c domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hung {
		return nil
	}
	if _, dup := s.seen[id]; dup {
		return nil
	}
	s.seen[id] = struct{}{}
	if !s.remoteApplied {
		s.pending = append(s.pending, c)
		return nil
	}
	return domain.EndpointError("add remote candidate", s.endpoint.AddRemoteCandidate(ctx, c))
}

// watchAnswer applies the first answer seen on the record. The relay may
// deliver the same snapshot more than once.
func (s *CallSession) watchAnswer(sub port.DocumentSubscription) {
	defer s.wg.Done()
	for fields := range sub.Events() {
		rec, err := decodeRecord(s.id, fields)
		if err != nil {
			s.fail(err)
			continue
		}
		if rec.Answer == nil {
			continue
		}
		if _, err := s.applyRemoteDescription(s.ctx, *rec.Answer); err != nil {
			s.fail(err)
		}
	}
	s.subscriptionEnded("call record", sub.Err())
}

func (s *CallSession) watchRemoteCandidates(sub port.CollectionSubscription) {
	defer s.wg.Done()
	for change := range sub.Events() {
		if change.Type != domain.ChangeAdded {
			continue
		}
		c, err := domain.CandidateFromFields(change.Fields)
		if err != nil {
			s.fail(domain.EndpointError("decode candidate", err))
			continue
		}
		if err := s.addRemoteCandidate(s.ctx, change.ID, c); err != nil {
			s.fail(err)
		}
	}
	s.subscriptionEnded(s.role.RemoteCandidates(), sub.Err())
}

func (s *CallSession) subscriptionEnded(name string, err error) {
	if err == nil || s.ctx.Err() != nil {
		return
	}
	s.fail(domain.RelayError("watch "+name, err))
}

func (s *CallSession) fail(err error) {
	s.mu.Lock()
	if s.hung {
		s.mu.Unlock()
		return
	}
	first := s.err == nil
	if first {
		s.err = err
		close(s.failed)
	}
	s.mu.Unlock()
	s.l.Error().Err(err).Bool("first", first).Msg("Call negotiation failed")
}
