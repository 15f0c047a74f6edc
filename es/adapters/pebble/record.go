package pebblestore

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/store"
)

type eventRecord struct {
	Type    string `cbor:"1,keyasint"`
	Payload []byte `cbor:"2,keyasint"`
}

type changesetRecord struct {
	CommitID    []byte        `cbor:"1,keyasint"`
	CommittedAt int64         `cbor:"2,keyasint"`
	Metadata    []byte        `cbor:"3,keyasint"`
	Events      []eventRecord `cbor:"4,keyasint"`
	GlobalIndex int64         `cbor:"5,keyasint,omitempty"`
	CommitSeq   uint64        `cbor:"6,keyasint"`
}

type counterRecord struct {
	Value       int64  `cbor:"1,keyasint"`
	RefStream   string `cbor:"2,keyasint,omitempty"`
	RefChangeID int64  `cbor:"3,keyasint,omitempty"`
}

type statsRecord struct {
	Streams        int64 `cbor:"1,keyasint"`
	Changesets     int64 `cbor:"2,keyasint"`
	Events         int64 `cbor:"3,keyasint"`
	MaxGlobalIndex int64 `cbor:"4,keyasint"`
}

func newChangesetRecord(cs *es.Changeset, seq uint64) changesetRecord {
	rec := changesetRecord{
		CommitID:    cs.CommitID[:],
		CommittedAt: cs.CommittedAt.UnixNano(),
		Metadata:    cs.Metadata,
		Events:      make([]eventRecord, len(cs.Events)),
		CommitSeq:   seq,
	}
	for i, e := range cs.Events {
		rec.Events[i] = eventRecord{Type: e.Type, Payload: e.Payload}
	}
	return rec
}

func (r *changesetRecord) changeset(ref es.ChangesetRef) (es.Changeset, error) {
	commitID, err := uuid.FromBytes(r.CommitID)
	if err != nil {
		return es.Changeset{}, err
	}
	cs := es.Changeset{
		StreamID:    ref.StreamID,
		ChangesetID: ref.ChangesetID,
		CommitID:    commitID,
		CommittedAt: time.Unix(0, r.CommittedAt).UTC(),
		Metadata:    r.Metadata,
		GlobalIndex: r.GlobalIndex,
		Events:      make([]es.Event, len(r.Events)),
	}
	for i, e := range r.Events {
		cs.Events[i] = es.Event{Type: e.Type, Payload: e.Payload}
	}
	return cs, nil
}

func (r counterRecord) counter() store.Counter {
	return store.Counter{
		Value: r.Value,
		Ref:   es.ChangesetRef{StreamID: r.RefStream, ChangesetID: r.RefChangeID},
	}
}

func encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
