// Package wsrelay is a Relay Channel client for the relay server's /ws
// endpoint.
package wsrelay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/relay"
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed         = errors.New("relay connection closed")
	ErrConnectionLost = errors.New("relay connection lost")
)

type pendingCall struct {
	ch chan wire.Frame
	// register runs on the read loop, under Client.mu, before any frame
	// that follows the response.
	register func(watchID uint64)
}

type sink interface {
	deliver(f wire.Frame)
	end(err error)
}

type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingCall
	watches map[uint64]sink
	closed  bool
	err     error
	done    chan struct{}
}

var _ port.RelayChannel = (*Client)(nil)

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial relay %s", url)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[uint64]pendingCall),
		watches: make(map[uint64]sink),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends; Err says why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	watches := c.watches
	c.watches = make(map[uint64]sink)
	c.pending = make(map[uint64]pendingCall)
	close(c.done)
	c.mu.Unlock()

	for _, s := range watches {
		s.end(err)
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(errors.Wrap(ErrConnectionLost, err.Error()))
			c.conn.Close()
			return
		}

		var f wire.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed relay frame")
			continue
		}

		switch f.Type {
		case wire.FrameResponse:
			c.mu.Lock()
			p, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			if ok && p.register != nil && f.Error == nil {
				p.register(f.WatchID)
			}
			c.mu.Unlock()
			if ok {
				p.ch <- f
			}

		case wire.FrameDocument, wire.FrameChange:
			c.mu.Lock()
			s, ok := c.watches[f.WatchID]
			c.mu.Unlock()
			if ok {
				s.deliver(f)
			}

		case wire.FrameClosed:
			c.mu.Lock()
			s, ok := c.watches[f.WatchID]
			delete(c.watches, f.WatchID)
			c.mu.Unlock()
			if ok {
				var err error
				if f.Error != nil {
					err = f.Error
				}
				s.end(err)
			}
		}
	}
}

func (c *Client) call(ctx context.Context, req wire.Request, register func(watchID uint64)) (wire.Frame, error) {
	ch := make(chan wire.Frame, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return wire.Frame{}, err
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = pendingCall{ch: ch, register: register}
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return wire.Frame{}, errors.Wrapf(err, "send %s", req.Op)
	}

	select {
	case f := <-ch:
		return f, f.Err()
	case <-ctx.Done():
		c.forget(req.ID)
		return wire.Frame{}, ctx.Err()
	case <-c.done:
		return wire.Frame{}, c.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) CreateDocument(ctx context.Context, collection string) (string, error) {
	f, err := c.call(ctx, wire.Request{Op: wire.OpCreate, Collection: collection}, nil)
	if err != nil {
		return "", err
	}
	return f.DocumentID, nil
}

func (c *Client) GetDocument(ctx context.Context, collection, id string) (domain.Fields, error) {
	f, err := c.call(ctx, wire.Request{Op: wire.OpGet, Collection: collection, DocumentID: id}, nil)
	if err != nil {
		return nil, err
	}
	if !f.Exists {
		return nil, nil
	}
	if f.Fields == nil {
		return domain.Fields{}, nil
	}
	return f.Fields, nil
}

func (c *Client) SetDocument(ctx context.Context, collection, id string, fields domain.Fields, merge bool) error {
	if fields == nil {
		fields = domain.Fields{}
	}
	_, err := c.call(ctx, wire.Request{Op: wire.OpSet, Collection: collection, DocumentID: id, Fields: fields, Merge: merge}, nil)
	return err
}

func (c *Client) AddToSubcollection(ctx context.Context, collection, id, sub string, record domain.Fields) (string, error) {
	if record == nil {
		record = domain.Fields{}
	}
	f, err := c.call(ctx, wire.Request{Op: wire.OpAdd, Collection: collection, DocumentID: id, Subcollection: sub, Fields: record}, nil)
	if err != nil {
		return "", err
	}
	return f.DocumentID, nil
}

func (c *Client) OnDocumentChange(ctx context.Context, collection, id string) (port.DocumentSubscription, error) {
	w := &watch{c: c}
	feed := relay.NewFeed[domain.Fields](ctx, w.release)
	w.done = feed.Done()
	req := wire.Request{Op: wire.OpWatchDocument, Collection: collection, DocumentID: id}
	if _, err := c.call(ctx, req, w.registerer(documentSink{feed})); err != nil {
		feed.Close()
		return nil, err
	}
	return feed, nil
}

func (c *Client) OnSubcollectionChange(ctx context.Context, collection, id, sub string) (port.CollectionSubscription, error) {
	w := &watch{c: c}
	feed := relay.NewFeed[domain.DocumentChange](ctx, w.release)
	w.done = feed.Done()
	req := wire.Request{Op: wire.OpWatchCollection, Collection: collection, DocumentID: id, Subcollection: sub}
	if _, err := c.call(ctx, req, w.registerer(changeSink{feed})); err != nil {
		feed.Close()
		return nil, err
	}
	return feed, nil
}

// watch ties a local feed to its server-side watch id.
type watch struct {
	c    *Client
	id   uint64
	done <-chan struct{}
}

func (w *watch) registerer(s sink) func(uint64) {
	return func(watchID uint64) {
		select {
		case <-w.done:
			go w.c.unwatch(watchID)
			return
		default:
		}
		w.id = watchID
		w.c.watches[watchID] = s
	}
}

// release runs once when the local feed closes.
func (w *watch) release() {
	w.c.mu.Lock()
	_, live := w.c.watches[w.id]
	delete(w.c.watches, w.id)
	id, closed := w.id, w.c.closed
	w.c.mu.Unlock()
	if live && !closed {
		go w.c.unwatch(id)
	}
}

func (c *Client) unwatch(watchID uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.call(ctx, wire.Request{Op: wire.OpUnwatch, WatchID: watchID}, nil); err != nil {
		log.Debug().Err(err).Uint64("watch_id", watchID).Msg("Unwatch failed")
	}
}

type documentSink struct {
	feed *relay.Feed[domain.Fields]
}

func (s documentSink) deliver(f wire.Frame) {
	if f.Type != wire.FrameDocument {
		return
	}
	fields := f.Fields
	if fields == nil {
		fields = domain.Fields{}
	}
	s.feed.Push(fields)
}

func (s documentSink) end(err error) { s.feed.CloseWithError(err) }

type changeSink struct {
	feed *relay.Feed[domain.DocumentChange]
}

func (s changeSink) deliver(f wire.Frame) {
	if f.Type != wire.FrameChange || f.Change == nil {
		return
	}
	s.feed.Push(*f.Change)
}

func (s changeSink) end(err error) { s.feed.CloseWithError(err) }
