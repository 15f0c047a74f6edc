package pebblestore

import (
	"encoding/binary"
	"errors"

	"github.com/getpup/pupstore/es"
)

// Key layout. Integers are big-endian so keys sort numerically; stream ids are
// length-prefixed so one stream's prefix never covers another stream.
//
//	cs/<stream><changeset_id>  changeset record
//	sh/<stream>                last changeset id of the stream
//	gi/<global_index>          ref of the changeset holding the index
//	ux/<commit_seq>            ref of a changeset without an index, in commit order
//	ct/<name>                  counter
//	mt/...                     store metadata
var (
	prefixChangeset = []byte("cs/")
	prefixHead      = []byte("sh/")
	prefixGlobal    = []byte("gi/")
	prefixUnindexed = []byte("ux/")
	prefixCounter   = []byte("ct/")

	keyCommitSeq = []byte("mt/commit_seq")
	keyStats     = []byte("mt/stats")
)

var errCorruptRef = errors.New("pebble: corrupt changeset ref")

func appendStream(dst []byte, stream string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(stream)))
	return append(dst, stream...)
}

func streamPrefix(stream string) []byte {
	return appendStream(append([]byte(nil), prefixChangeset...), stream)
}

func changesetKey(stream string, id int64) []byte {
	return binary.BigEndian.AppendUint64(streamPrefix(stream), uint64(id))
}

func headKey(stream string) []byte {
	return append(append([]byte(nil), prefixHead...), stream...)
}

func globalKey(index int64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixGlobal...), uint64(index))
}

func unindexedKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixUnindexed...), seq)
}

func counterKey(name string) []byte {
	return append(append([]byte(nil), prefixCounter...), name...)
}

func encodeRef(ref es.ChangesetRef) []byte {
	b := appendStream(nil, ref.StreamID)
	return binary.BigEndian.AppendUint64(b, uint64(ref.ChangesetID))
}

func decodeRef(b []byte) (es.ChangesetRef, error) {
	if len(b) < 4 {
		return es.ChangesetRef{}, errCorruptRef
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+n+8 {
		return es.ChangesetRef{}, errCorruptRef
	}
	return es.ChangesetRef{
		StreamID:    string(b[4 : 4+n]),
		ChangesetID: int64(binary.BigEndian.Uint64(b[4+n:])),
	}, nil
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// upperBound returns the smallest key greater than every key with the prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
