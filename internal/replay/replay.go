// Package replay implements the persisted replay file format: a
// magic-tagged header carrying the session seed, start frame and a
// snapshot of the world at that frame, followed by one record per frame
// until EOF. The headless replayer (cmd/replayer) reads these files back
// to validate deterministic re-execution or rollback equivalence.
package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Magic identifies a replay file.
var Magic = [4]byte{'R', 'E', 'P', 'L'}

// Version is the replay format version this package writes and expects.
const Version uint32 = 1

// InputRecord is one player's input within a FrameRecord.
type InputRecord struct {
	PlayerID   uint8
	InputBytes []byte
}

// FrameRecord is one tick's worth of confirmed inputs and the resulting
// frame hash, as recorded during a live match.
type FrameRecord struct {
	Frame  int64
	Inputs []InputRecord
	Hash   uint64
}

// Writer appends frame records to an open replay file, after the fixed
// header has been written.
type Writer struct {
	w   *bufio.Writer
	flg io.Writer
}

// NewWriter writes the fixed header - magic, version, session seed, start
// frame, then the length-prefixed snapshot blob for start_frame - and
// returns a Writer ready to append FrameRecords.
func NewWriter(w io.Writer, sessionSeed uint32, startFrame int64, startSnapshot []byte) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Magic[:]); err != nil {
		return nil, fmt.Errorf("replay: write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, Version); err != nil {
		return nil, fmt.Errorf("replay: write version: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, sessionSeed); err != nil {
		return nil, fmt.Errorf("replay: write session seed: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(startFrame)); err != nil {
		return nil, fmt.Errorf("replay: write start frame: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(startSnapshot))); err != nil {
		return nil, fmt.Errorf("replay: write snapshot length: %w", err)
	}
	if _, err := bw.Write(startSnapshot); err != nil {
		return nil, fmt.Errorf("replay: write snapshot: %w", err)
	}
	return &Writer{w: bw}, nil
}

// WriteFrame appends one frame record. Input counts beyond 255 players
// are rejected, matching the wire format's single-byte input_count.
func (wr *Writer) WriteFrame(rec FrameRecord) error {
	if len(rec.Inputs) > 0xff {
		return fmt.Errorf("replay: frame %d has %d inputs, more than a u8 input_count can hold", rec.Frame, len(rec.Inputs))
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint32(rec.Frame)); err != nil {
		return fmt.Errorf("replay: write frame %d: %w", rec.Frame, err)
	}
	if err := wr.w.WriteByte(byte(len(rec.Inputs))); err != nil {
		return fmt.Errorf("replay: write input_count for frame %d: %w", rec.Frame, err)
	}
	for _, in := range rec.Inputs {
		if err := wr.w.WriteByte(in.PlayerID); err != nil {
			return fmt.Errorf("replay: write player_id for frame %d: %w", rec.Frame, err)
		}
		if err := binary.Write(wr.w, binary.LittleEndian, uint32(len(in.InputBytes))); err != nil {
			return fmt.Errorf("replay: write input length for frame %d: %w", rec.Frame, err)
		}
		if _, err := wr.w.Write(in.InputBytes); err != nil {
			return fmt.Errorf("replay: write input bytes for frame %d: %w", rec.Frame, err)
		}
	}
	if err := binary.Write(wr.w, binary.LittleEndian, rec.Hash); err != nil {
		return fmt.Errorf("replay: write hash for frame %d: %w", rec.Frame, err)
	}
	return nil
}

// Flush flushes buffered output to the underlying writer.
func (wr *Writer) Flush() error {
	return wr.w.Flush()
}

// Header is the parsed fixed prefix of a replay file.
type Header struct {
	Version     uint32
	SessionSeed uint32
	StartFrame  int64
	Snapshot    []byte
}

// Reader reads a replay file's header once, then yields FrameRecords in
// order until EOF.
type Reader struct {
	r   *bufio.Reader
	Header
}

// NewReader parses the fixed header from r and returns a Reader
// positioned at the first frame record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("replay: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("replay: bad magic %q, want %q", magic, Magic)
	}
	rd := &Reader{r: br}
	if err := binary.Read(br, binary.LittleEndian, &rd.Version); err != nil {
		return nil, fmt.Errorf("replay: read version: %w", err)
	}
	if rd.Version != Version {
		return nil, fmt.Errorf("replay: version mismatch: got %d, want %d", rd.Version, Version)
	}
	if err := binary.Read(br, binary.LittleEndian, &rd.SessionSeed); err != nil {
		return nil, fmt.Errorf("replay: read session seed: %w", err)
	}
	var startFrame uint32
	if err := binary.Read(br, binary.LittleEndian, &startFrame); err != nil {
		return nil, fmt.Errorf("replay: read start frame: %w", err)
	}
	rd.StartFrame = int64(startFrame)
	var snapLen uint32
	if err := binary.Read(br, binary.LittleEndian, &snapLen); err != nil {
		return nil, fmt.Errorf("replay: read snapshot length: %w", err)
	}
	rd.Snapshot = make([]byte, snapLen)
	if _, err := io.ReadFull(br, rd.Snapshot); err != nil {
		return nil, fmt.Errorf("replay: read snapshot: %w", err)
	}
	return rd, nil
}

// Next reads the next FrameRecord, returning io.EOF once the file is
// exhausted - the format's implicit end-of-match marker.
func (rd *Reader) Next() (FrameRecord, error) {
	var rec FrameRecord
	var frame uint32
	if err := binary.Read(rd.r, binary.LittleEndian, &frame); err != nil {
		if err == io.EOF {
			return rec, io.EOF
		}
		return rec, fmt.Errorf("replay: read frame number: %w", err)
	}
	rec.Frame = int64(frame)

	count, err := rd.r.ReadByte()
	if err != nil {
		return rec, fmt.Errorf("replay: read input_count for frame %d: %w", rec.Frame, err)
	}
	rec.Inputs = make([]InputRecord, count)
	for i := range rec.Inputs {
		playerID, err := rd.r.ReadByte()
		if err != nil {
			return rec, fmt.Errorf("replay: read player_id for frame %d: %w", rec.Frame, err)
		}
		var n uint32
		if err := binary.Read(rd.r, binary.LittleEndian, &n); err != nil {
			return rec, fmt.Errorf("replay: read input length for frame %d: %w", rec.Frame, err)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(rd.r, data); err != nil {
			return rec, fmt.Errorf("replay: read input bytes for frame %d: %w", rec.Frame, err)
		}
		rec.Inputs[i] = InputRecord{PlayerID: playerID, InputBytes: data}
	}
	if err := binary.Read(rd.r, binary.LittleEndian, &rec.Hash); err != nil {
		return rec, fmt.Errorf("replay: read hash for frame %d: %w", rec.Frame, err)
	}
	return rec, nil
}
