package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pkg/errors"
)

// fakeEndpoint records every call the coordinator makes on it. Like a real
// transport it rejects remote candidates until a remote description is set.
type fakeEndpoint struct {
	name string

	mu          sync.Mutex
	onCandidate func(*domain.Candidate)
	local       *domain.SessionDescription
	remote      *domain.SessionDescription
	remoteSets  int
	candidates  []domain.Candidate
	offers      int
	closed      int
	failOffer   error
	failRemote  error
	// reject makes AddRemoteCandidate fail for this candidate.
	reject string
	// When set, CreateOffer and CreateAnswer close started and then wait
	// for release.
	started chan struct{}
	release chan struct{}
}

func newFakeEndpoint(name string) *fakeEndpoint {
	return &fakeEndpoint{name: name}
}

func (e *fakeEndpoint) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	e.block()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offers++
	if e.failOffer != nil {
		return domain.SessionDescription{}, e.failOffer
	}
	return domain.NewSessionDescription(domain.SDPTypeOffer, "v=0 offer "+e.name), nil
}

func (e *fakeEndpoint) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	e.block()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	return domain.NewSessionDescription(domain.SDPTypeAnswer, "v=0 answer "+e.name), nil
}

func (e *fakeEndpoint) block() {
	if e.started == nil {
		return
	}
	close(e.started)
	<-e.release
}

func (e *fakeEndpoint) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = &desc
	return nil
}

func (e *fakeEndpoint) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteSets++
	if e.failRemote != nil {
		return e.failRemote
	}
	e.remote = &desc
	return nil
}

func (e *fakeEndpoint) AddRemoteCandidate(ctx context.Context, c domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return errors.New("remote description not set")
	}
	if e.reject != "" && c.Candidate == e.reject {
		return errors.New("bad candidate")
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEndpoint) OnLocalCandidate(fn func(c *domain.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *fakeEndpoint) OnRemoteTrack(fn func(t domain.RemoteTrack)) {}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

// emit plays the transport discovering a local candidate.
func (e *fakeEndpoint) emit(candidate string) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn == nil {
		return
	}
	c := domain.Candidate{Candidate: candidate}
	fn(&c)
}

func (e *fakeEndpoint) endDiscovery() {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
}

func (e *fakeEndpoint) localDesc() *domain.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *fakeEndpoint) remoteDesc() *domain.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

func (e *fakeEndpoint) remoteSetCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteSets
}

func (e *fakeEndpoint) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEndpoint) received() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.candidates))
	for i, c := range e.candidates {
		out[i] = c.Candidate
	}
	return out
}

func (e *fakeEndpoint) untouched() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offers == 0 && e.local == nil && e.remoteSets == 0 && e.closed == 0 && e.onCandidate == nil
}

// failingRelay wraps the memory relay, fails the operations named in fail
// and remembers the last document it created.
type failingRelay struct {
	*memory.Relay
	fail map[string]bool

	mu      sync.Mutex
	created string
}

func (r *failingRelay) lastCreated() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

var errRelayDown = errors.New("relay down")

func (r *failingRelay) CreateDocument(ctx context.Context, collection string) (string, error) {
	if r.fail["create"] {
		return "", errRelayDown
	}
	id, err := r.Relay.CreateDocument(ctx, collection)
	r.mu.Lock()
	r.created = id
	r.mu.Unlock()
	return id, err
}

func (r *failingRelay) SetDocument(ctx context.Context, collection, id string, fields domain.Fields, merge bool) error {
	if r.fail["set"] {
		return errRelayDown
	}
	return r.Relay.SetDocument(ctx, collection, id, fields, merge)
}

func candidateName(i int) string {
	return fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 5000%d typ host", i, i, i)
}
