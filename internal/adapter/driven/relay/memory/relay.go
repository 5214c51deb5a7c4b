package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pkg/errors"
)

type docKey struct {
	collection string
	id         string
}

type child struct {
	id     string
	fields domain.Fields
}

type children struct {
	records  []child
	watchers map[*relay.Feed[domain.DocumentChange]]struct{}
}

type document struct {
	fields   domain.Fields
	exists   bool
	subs     map[string]*children
	watchers map[*relay.Feed[domain.Fields]]struct{}
}

// Relay is an in-process Relay Channel with realtime push.
type Relay struct {
	mu     sync.Mutex
	docs   map[docKey]*document
	closed bool
}

var _ port.RelayChannel = (*Relay)(nil)

var errClosed = errors.New("relay closed")

func NewRelay() *Relay {
	return &Relay{
		docs: make(map[docKey]*document),
	}
}

// entry returns the slot for key, creating an absent one so watchers can
// attach before the document is written. Callers hold r.mu.
func (r *Relay) entry(key docKey) *document {
	d, ok := r.docs[key]
	if !ok {
		d = &document{
			subs:     make(map[string]*children),
			watchers: make(map[*relay.Feed[domain.Fields]]struct{}),
		}
		r.docs[key] = d
	}
	return d
}

func (d *document) sub(name string) *children {
	c, ok := d.subs[name]
	if !ok {
		c = &children{watchers: make(map[*relay.Feed[domain.DocumentChange]]struct{})}
		d.subs[name] = c
	}
	return c
}

func (r *Relay) CreateDocument(ctx context.Context, collection string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", errClosed
	}
	id := domain.NewDocumentID()
	d := r.entry(docKey{collection, id})
	d.fields = domain.Fields{}
	d.exists = true
	return id, nil
}

func (r *Relay) GetDocument(ctx context.Context, collection, id string) (domain.Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed
	}
	d, ok := r.docs[docKey{collection, id}]
	if !ok || !d.exists {
		return nil, nil
	}
	return d.fields.Clone(), nil
}

func (r *Relay) SetDocument(ctx context.Context, collection, id string, fields domain.Fields, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed
	}
	d := r.entry(docKey{collection, id})
	if merge && d.exists {
		d.fields = d.fields.Merge(fields)
	} else {
		d.fields = fields.Clone()
		if d.fields == nil {
			d.fields = domain.Fields{}
		}
	}
	d.exists = true
	for w := range d.watchers {
		w.Push(d.fields.Clone())
	}
	return nil
}

func (r *Relay) AddToSubcollection(ctx context.Context, collection, id, sub string, record domain.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", errClosed
	}
	d, ok := r.docs[docKey{collection, id}]
	if !ok || !d.exists {
		return "", errors.Wrapf(domain.ErrDocumentNotFound, "%s/%s", collection, id)
	}
	c := child{id: domain.NewDocumentID(), fields: record.Clone()}
	s := d.sub(sub)
	s.records = append(s.records, c)
	for w := range s.watchers {
		w.Push(domain.DocumentChange{Type: domain.ChangeAdded, ID: c.id, Fields: c.fields.Clone()})
	}
	return c.id, nil
}

func (r *Relay) OnDocumentChange(ctx context.Context, collection, id string) (port.DocumentSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed
	}
	d := r.entry(docKey{collection, id})

	var f *relay.Feed[domain.Fields]
	f = relay.NewFeed[domain.Fields](ctx, func() {
		r.mu.Lock()
		delete(d.watchers, f)
		r.mu.Unlock()
	})
	if d.exists {
		f.Push(d.fields.Clone())
	}
	d.watchers[f] = struct{}{}
	return f, nil
}

func (r *Relay) OnSubcollectionChange(ctx context.Context, collection, id, sub string) (port.CollectionSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed
	}
	s := r.entry(docKey{collection, id}).sub(sub)

	var f *relay.Feed[domain.DocumentChange]
	f = relay.NewFeed[domain.DocumentChange](ctx, func() {
		r.mu.Lock()
		delete(s.watchers, f)
		r.mu.Unlock()
	})
	for _, c := range s.records {
		f.Push(domain.DocumentChange{Type: domain.ChangeAdded, ID: c.id, Fields: c.fields.Clone()})
	}
	s.watchers[f] = struct{}{}
	return f, nil
}

// Close ends every subscription; later calls fail.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var docFeeds []*relay.Feed[domain.Fields]
	var subFeeds []*relay.Feed[domain.DocumentChange]
	for _, d := range r.docs {
		for w := range d.watchers {
			docFeeds = append(docFeeds, w)
		}
		for _, s := range d.subs {
			for w := range s.watchers {
				subFeeds = append(subFeeds, w)
			}
		}
	}
	r.mu.Unlock()

	for _, f := range docFeeds {
		f.CloseWithError(errClosed)
	}
	for _, f := range subFeeds {
		f.CloseWithError(errClosed)
	}
	return nil
}
