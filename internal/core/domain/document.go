package domain

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Fields is the JSON-like content of a relay document or child record.
type Fields map[string]any

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// DocumentChange is one event on a sub-collection subscription.
type DocumentChange struct {
	Type   ChangeType `json:"type"`
	ID     string     `json:"id"`
	Fields Fields     `json:"fields"`
}

func ToFields(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode fields")
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "encode fields")
	}
	return f, nil
}

func (f Fields) Decode(v any) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "decode fields")
	}
	return errors.Wrap(json.Unmarshal(raw, v), "decode fields")
}

// Clone returns a deep copy, so stored documents never alias caller maps.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge overlays top-level keys of patch onto a copy of f.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = make(Fields, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Fields(t).Clone())
	case Fields:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
