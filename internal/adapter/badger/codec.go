package badger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/DAJ8112/Yanck/internal/vector"
)

const codecVersion uint8 = 1

var errCorruptSnapshot = errors.New("corrupt snapshot")

// Layout, little endian:
//
//	version u8 | digest str | count u32 | count × (chunk str | doc str | dim u32 | dim × f32)
//
// where str is a u16 length followed by the bytes.
func encodeSnapshot(snap vector.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	if err := writeString(&buf, snap.Digest); err != nil {
		return nil, err
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(snap.Entries)))
	for _, e := range snap.Entries {
		if err := writeString(&buf, e.ChunkID); err != nil {
			return nil, err
		}
		if err := writeString(&buf, e.DocumentID); err != nil {
			return nil, err
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(e.Vector)))
		for _, f := range e.Vector {
			binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
		}
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(data []byte) (*vector.Snapshot, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: unknown version %d", errCorruptSnapshot, version)
	}

	snap := &vector.Snapshot{}
	if snap.Digest, err = readString(r); err != nil {
		return nil, err
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	snap.Entries = make([]vector.Entry, 0, min(int(count), r.Len()))
	for range count {
		var e vector.Entry
		if e.ChunkID, err = readString(r); err != nil {
			return nil, err
		}
		if e.DocumentID, err = readString(r); err != nil {
			return nil, err
		}
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
		}
		if int(dim)*4 > r.Len() {
			return nil, fmt.Errorf("%w: vector of %d dimensions overruns buffer", errCorruptSnapshot, dim)
		}
		bits := make([]uint32, dim)
		if err := binary.Read(r, binary.LittleEndian, bits); err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptSnapshot, err)
		}
		e.Vector = make([]float32, dim)
		for i, b := range bits {
			e.Vector[i] = math.Float32frombits(b)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", errCorruptSnapshot, r.Len())
	}
	return snap, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string of %d bytes too long for snapshot", len(s))
	}
	binary.Write(w, binary.LittleEndian, uint16(len(s)))
	_, err := io.WriteString(w, s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	if int(n) > r.Len() {
		return "", fmt.Errorf("%w: string of %d bytes overruns buffer", errCorruptSnapshot, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %v", errCorruptSnapshot, err)
	}
	return string(b), nil
}
