package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Peers are CLIs and browsers on other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

var _ ws.Client = (*WSClient)(nil)

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) Send(frame wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// relayConn serves the relay protocol for one websocket client.
type relayConn struct {
	h      *Handler
	client *WSClient
	ctx    context.Context
	l      zerolog.Logger

	mu      sync.Mutex
	watches map[uint64]func()
	nextID  uint64
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}
	if h.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.MaxMessageBytes)
	}

	client := &WSClient{
		id:   domain.NewDocumentID(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New client connected")

	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &relayConn{
		h:       h,
		client:  client,
		ctx:     ctx,
		l:       l,
		watches: make(map[uint64]func()),
	}

	defer func() {
		l.Info().Msg("Client disconnected")
		cancel()
		h.Hub.Unregister(client)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		req, err := wire.ParseRequest(data)
		if err != nil {
			l.Warn().Err(err).Msg("Invalid relay request")
			if err := client.Send(wire.Frame{
				Type:  wire.FrameResponse,
				ID:    wire.RequestID(data),
				Error: &wire.Error{Code: wire.CodeBadRequest, Message: err.Error()},
			}); err != nil {
				break
			}
			continue
		}

		if err := rc.handle(req); err != nil {
			l.Error().Err(err).Msg("Failed to write frame")
			break
		}
	}
}

// handle serves one request. The returned error is a write failure.
func (rc *relayConn) handle(req wire.Request) error {
	relay := rc.h.Relay
	resp := wire.Frame{Type: wire.FrameResponse, ID: req.ID}

	switch req.Op {
	case wire.OpCreate:
		id, err := relay.CreateDocument(rc.ctx, req.Collection)
		if err != nil {
			return rc.fail(req, err)
		}
		resp.DocumentID = id

	case wire.OpGet:
		fields, err := relay.GetDocument(rc.ctx, req.Collection, req.DocumentID)
		if err != nil {
			return rc.fail(req, err)
		}
		resp.DocumentID = req.DocumentID
		resp.Fields = fields
		resp.Exists = fields != nil

	case wire.OpSet:
		if err := relay.SetDocument(rc.ctx, req.Collection, req.DocumentID, req.Fields, req.Merge); err != nil {
			return rc.fail(req, err)
		}

	case wire.OpAdd:
		id, err := relay.AddToSubcollection(rc.ctx, req.Collection, req.DocumentID, req.Subcollection, req.Fields)
		if err != nil {
			return rc.fail(req, err)
		}
		resp.DocumentID = id

	case wire.OpWatchDocument:
		sub, err := relay.OnDocumentChange(rc.ctx, req.Collection, req.DocumentID)
		if err != nil {
			return rc.fail(req, err)
		}
		watchID := rc.addWatch(sub.Close)
		resp.WatchID = watchID
		if err := rc.client.Send(resp); err != nil {
			sub.Close()
			return err
		}
		go func() {
			for fields := range sub.Events() {
				if err := rc.client.Send(wire.Frame{Type: wire.FrameDocument, WatchID: watchID, Fields: fields}); err != nil {
					sub.Close()
				}
			}
			rc.endWatch(watchID, sub.Err())
		}()
		return nil

	case wire.OpWatchCollection:
		sub, err := relay.OnSubcollectionChange(rc.ctx, req.Collection, req.DocumentID, req.Subcollection)
		if err != nil {
			return rc.fail(req, err)
		}
		watchID := rc.addWatch(sub.Close)
		resp.WatchID = watchID
		if err := rc.client.Send(resp); err != nil {
			sub.Close()
			return err
		}
		go func() {
			for change := range sub.Events() {
				if err := rc.client.Send(wire.Frame{Type: wire.FrameChange, WatchID: watchID, Change: &change}); err != nil {
					sub.Close()
				}
			}
			rc.endWatch(watchID, sub.Err())
		}()
		return nil

	case wire.OpUnwatch:
		rc.mu.Lock()
		stop, ok := rc.watches[req.WatchID]
		rc.mu.Unlock()
		if ok {
			stop()
		}
		resp.WatchID = req.WatchID
	}

	return rc.client.Send(resp)
}

func (rc *relayConn) fail(req wire.Request, err error) error {
	rc.l.Warn().Err(err).Str("op", string(req.Op)).Msg("Relay request failed")
	return rc.client.Send(wire.ErrorFrame(req.ID, err))
}

func (rc *relayConn) addWatch(stop func()) uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.nextID++
	rc.watches[rc.nextID] = stop
	return rc.nextID
}

// endWatch tells the client a watch is over, unless the connection is.
func (rc *relayConn) endWatch(watchID uint64, err error) {
	rc.mu.Lock()
	delete(rc.watches, watchID)
	rc.mu.Unlock()

	if rc.ctx.Err() != nil {
		return
	}
	frame := wire.Frame{Type: wire.FrameClosed, WatchID: watchID}
	if err != nil {
		frame.Error = &wire.Error{Code: wire.CodeInternal, Message: err.Error()}
	}
	_ = rc.client.Send(frame)
}
