// Package wire is the relay protocol spoken over the /ws websocket.
//
// Clients send Requests; the server answers each with a response Frame
// carrying the same ID, and pushes event Frames for active watches.
package wire

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/pkg/errors"
)

type Op string

const (
	OpCreate          Op = "create"
	OpGet             Op = "get"
	OpSet             Op = "set"
	OpAdd             Op = "add"
	OpWatchDocument   Op = "watch_document"
	OpWatchCollection Op = "watch_collection"
	OpUnwatch         Op = "unwatch"
)

type FrameType string

const (
	FrameResponse FrameType = "response"
	FrameDocument FrameType = "document"
	FrameChange   FrameType = "change"
	// FrameClosed ends a watch from the server side.
	FrameClosed FrameType = "closed"
)

const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeInternal   = "internal"
)

type Request struct {
	ID            uint64        `json:"id"`
	Op            Op            `json:"op"`
	Collection    string        `json:"collection,omitempty"`
	DocumentID    string        `json:"documentId,omitempty"`
	Subcollection string        `json:"subcollection,omitempty"`
	Fields        domain.Fields `json:"fields"`
	Merge         bool          `json:"merge,omitempty"`
	WatchID       uint64        `json:"watchId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

type Frame struct {
	Type       FrameType              `json:"type"`
	ID         uint64                 `json:"id,omitempty"`
	WatchID    uint64                 `json:"watchId,omitempty"`
	DocumentID string                 `json:"documentId,omitempty"`
	Fields     domain.Fields          `json:"fields"`
	Exists     bool                   `json:"exists,omitempty"`
	Change     *domain.DocumentChange `json:"change,omitempty"`
	Error      *Error                 `json:"error,omitempty"`
}

func ParseRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Request{}, errors.New("unexpected trailing data")
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// RequestID extracts the id of a request that failed to parse, so the error
// can still be correlated. It returns 0 when there is none.
func RequestID(data []byte) uint64 {
	var probe struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0
	}
	return probe.ID
}

func (r Request) Validate() error {
	if r.ID == 0 {
		return errors.New("request missing id")
	}
	switch r.Op {
	case OpCreate:
		if r.Collection == "" {
			return errors.New("create request missing collection")
		}
	case OpGet, OpWatchDocument:
		if r.Collection == "" || r.DocumentID == "" {
			return errors.Errorf("%s request missing collection/documentId", r.Op)
		}
	case OpSet:
		if r.Collection == "" || r.DocumentID == "" {
			return errors.New("set request missing collection/documentId")
		}
		if r.Fields == nil {
			return errors.New("set request missing fields")
		}
	case OpAdd:
		if r.Collection == "" || r.DocumentID == "" || r.Subcollection == "" {
			return errors.New("add request missing collection/documentId/subcollection")
		}
		if r.Fields == nil {
			return errors.New("add request missing fields")
		}
	case OpWatchCollection:
		if r.Collection == "" || r.DocumentID == "" || r.Subcollection == "" {
			return errors.New("watch_collection request missing collection/documentId/subcollection")
		}
	case OpUnwatch:
		if r.WatchID == 0 {
			return errors.New("unwatch request missing watchId")
		}
	default:
		return errors.Errorf("unsupported op %q", r.Op)
	}
	return nil
}

// ErrorFrame answers request id with err, mapping domain errors to codes.
func ErrorFrame(id uint64, err error) Frame {
	code := CodeInternal
	if errors.Is(err, domain.ErrDocumentNotFound) {
		code = CodeNotFound
	}
	return Frame{Type: FrameResponse, ID: id, Error: &Error{Code: code, Message: err.Error()}}
}

// Err converts a response error back into a domain error.
func (f Frame) Err() error {
	if f.Error == nil {
		return nil
	}
	if f.Error.Code == CodeNotFound {
		return errors.Wrap(domain.ErrDocumentNotFound, f.Error.Message)
	}
	return f.Error
}
