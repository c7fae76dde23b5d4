package comm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/davidmcclure/history-of-literature/internal/corpus"
	"github.com/davidmcclure/history-of-literature/internal/counter"
	holerrors "github.com/davidmcclure/history-of-literature/internal/errors"
	"github.com/davidmcclure/history-of-literature/internal/job"
)

// DefaultMaxFrameBytes bounds one encoded message.
const DefaultMaxFrameBytes = 256 << 20

// kindHello is the handshake a socket worker sends once, before any Message.
const kindHello Kind = "hello"

// frame is the JSON body of every message on a socket.
type frame struct {
	Kind     Kind             `json:"kind"`
	Rank     int              `json:"rank,omitempty"`
	Item     *corpus.WorkItem `json:"item,omitempty"`
	Seq      int              `json:"seq,omitempty"`
	Stats    *job.Stats       `json:"stats,omitempty"`
	Snapshot *counter.Counter `json:"snapshot,omitempty"`
}

// Encode renders msg as JSON.
func Encode(msg Message) ([]byte, error) {
	var f frame
	switch m := msg.(type) {
	case Ready:
		f = frame{Kind: KindReady}
	case Work:
		item := m.Item
		f = frame{Kind: KindWork, Item: &item}
	case Result:
		stats := m.Stats
		f = frame{Kind: KindResult, Seq: m.Seq, Stats: &stats, Snapshot: m.Snapshot}
	case Exit:
		f = frame{Kind: KindExit, Snapshot: m.Snapshot}
	default:
		return nil, holerrors.TransitError(fmt.Sprintf("cannot encode message %T", msg), nil)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return nil, holerrors.TransitError("encode "+string(f.Kind), err)
	}
	return data, nil
}

// Decode parses a message. Unknown kinds and malformed bodies are
// TransitErrors.
func Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, holerrors.TransitError("decode message", err)
	}

	switch f.Kind {
	case KindReady:
		return Ready{}, nil
	case KindWork:
		if f.Item == nil {
			return nil, holerrors.TransitError("work message without item", nil)
		}
		return Work{Item: *f.Item}, nil
	case KindResult:
		r := Result{Seq: f.Seq, Snapshot: f.Snapshot}
		if f.Stats != nil {
			r.Stats = *f.Stats
		}
		return r, nil
	case KindExit:
		return Exit{Snapshot: f.Snapshot}, nil
	default:
		return nil, holerrors.TransitError(fmt.Sprintf("unknown message kind %q", f.Kind), nil)
	}
}

// WriteFrame writes a 4-byte big-endian length followed by data.
func WriteFrame(w io.Writer, data []byte, limit int) error {
	if len(data) > limit {
		return holerrors.OversizedError(len(data), limit)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame. A clean EOF before the
// header is returned as io.EOF.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := int(binary.BigEndian.Uint32(header[:]))
	if size > limit {
		return nil, holerrors.OversizedError(size, limit)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, holerrors.TransitError("truncated frame", err)
	}
	return data, nil
}

func writeMessage(w io.Writer, msg Message, limit int) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, data, limit)
}

func readMessage(r io.Reader, limit int) (Message, error) {
	data, err := ReadFrame(r, limit)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
