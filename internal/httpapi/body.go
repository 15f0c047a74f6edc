package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/getpup/pupstore/es"
)

// ErrInvalidBody indicates a commit body that is not of the form
// {"events": [{...}, ...], "metadata": {...}}.
var ErrInvalidBody = errors.New("invalid commit body")

type commitBody struct {
	Events   []json.RawMessage `json:"events"`
	Metadata json.RawMessage   `json:"metadata"`
}

// DecodeCommit parses a commit body. Every event must be a JSON object; its
// "type" field becomes the event type and the whole object is kept as the
// payload, byte for byte.
func DecodeCommit(body []byte) ([]es.Event, []byte, error) {
	var req commitBody
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	events := make([]es.Event, 0, len(req.Events))
	for i, raw := range req.Events {
		parsed := gjson.ParseBytes(raw)
		if !parsed.IsObject() {
			return nil, nil, fmt.Errorf("%w: event %d is not an object", ErrInvalidBody, i)
		}
		events = append(events, es.Event{
			Type:    parsed.Get("type").String(),
			Payload: []byte(raw),
		})
	}

	var metadata []byte
	if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
		if !gjson.ParseBytes(req.Metadata).IsObject() {
			return nil, nil, fmt.Errorf("%w: metadata is not an object", ErrInvalidBody)
		}
		metadata = []byte(req.Metadata)
	}
	return events, metadata, nil
}

// rawJSON returns b as embedded JSON, or as a string when b is not valid JSON.
func rawJSON(b []byte, empty string) any {
	if len(b) == 0 {
		return json.RawMessage(empty)
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}

type changesetView struct {
	StreamID    string `json:"stream_id,omitempty"`
	ChangesetID int64  `json:"changeset_id"`
	GlobalIndex *int64 `json:"global_index,omitempty"`
	CommittedAt string `json:"committed_at"`
	Events      []any  `json:"events"`
	Metadata    any    `json:"metadata"`
}

func newChangesetView(cs *es.Changeset, withStream bool) changesetView {
	v := changesetView{
		ChangesetID: cs.ChangesetID,
		CommittedAt: cs.CommittedAt.UTC().Format(time.RFC3339Nano),
		Events:      make([]any, len(cs.Events)),
		Metadata:    rawJSON(cs.Metadata, "{}"),
	}
	if withStream {
		v.StreamID = cs.StreamID
	}
	if cs.Indexed() {
		gi := cs.GlobalIndex
		v.GlobalIndex = &gi
	}
	for i, e := range cs.Events {
		v.Events[i] = rawJSON(e.Payload, "null")
	}
	return v
}

type streamChangesetsResponse struct {
	StreamID   string          `json:"stream_id"`
	Changesets []changesetView `json:"changesets"`
}

type streamEventView struct {
	ChangesetID int64 `json:"changeset_id"`
	Event       any   `json:"event"`
}

type streamEventsResponse struct {
	StreamID string            `json:"stream_id"`
	Events   []streamEventView `json:"events"`
}

type globalChangesetsResponse struct {
	Changesets []changesetView `json:"changesets"`
}

type commitResponse struct {
	StreamID    string `json:"stream-id"`
	ChangesetID int64  `json:"changeset-id"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type statsResponse struct {
	TotalStreams    int64 `json:"total_streams"`
	TotalChangesets int64 `json:"total_changesets"`
	TotalEvents     int64 `json:"total_events"`
	MaxGlobalIndex  int64 `json:"max_global_index"`
}

type indexerResponse struct {
	Assigned int `json:"assigned"`
}

type errorResponse struct {
	StreamID string `json:"stream_id,omitempty"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}
