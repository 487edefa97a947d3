package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
)

const (
	AddrSize  = 8
	FieldSize = 32

	segmentBits = 16
	offsetBits  = 47
)

func encodeAddr(r Relocatable) (uint64, error) {
	if r.Segment < 0 || r.Segment >= 1<<segmentBits || r.Offset >= 1<<offsetBits {
		return 0, fmt.Errorf("%w: cannot encode address %s", ErrOffsetOverflow, r)
	}
	return 1<<63 | uint64(r.Segment)<<offsetBits | r.Offset, nil
}

func decodeAddr(v uint64) (Relocatable, error) {
	if v&(1<<63) == 0 {
		return Relocatable{}, fmt.Errorf("expected a relocatable address, got %#x", v)
	}
	v &^= 1 << 63
	return NewRelocatable(int(v>>offsetBits), v&(1<<offsetBits-1)), nil
}

func encodeValue(v MaybeRelocatable) ([FieldSize]byte, error) {
	if r, ok := v.Relocatable(); ok {
		var out [FieldSize]byte
		enc, err := encodeAddr(r)
		if err != nil {
			return out, err
		}
		// the tag bit sits at the top of the 32 byte word
		binary.LittleEndian.PutUint64(out[:8], enc&^(1<<63))
		out[FieldSize-1] |= 0x80
		return out, nil
	}
	f, _ := v.Felt()
	return f.Bytes32(), nil
}

func decodeValue(b [FieldSize]byte) (MaybeRelocatable, error) {
	if b[FieldSize-1]&0x80 == 0 {
		return FromFelt(felt.SetBytes32(b)), nil
	}
	for _, x := range b[8 : FieldSize-1] {
		if x != 0 {
			return MaybeRelocatable{}, errors.New("malformed relocatable value encoding")
		}
	}
	if b[FieldSize-1] != 0x80 {
		return MaybeRelocatable{}, errors.New("malformed relocatable value encoding")
	}
	r, err := decodeAddr(binary.LittleEndian.Uint64(b[:8]) | 1<<63)
	if err != nil {
		return MaybeRelocatable{}, err
	}
	return FromRelocatable(r), nil
}

// Serialize writes every assigned cell as an 8 byte little-endian address
// followed by a 32 byte little-endian value. Relocatable addresses and values
// carry a tag in their top bit, then 16 segment bits and 47 offset bits.
func (m *Memory) Serialize(out io.Writer) error {
	return m.ForEach(func(addr Relocatable, value MaybeRelocatable) error {
		a, err := encodeAddr(addr)
		if err != nil {
			return err
		}
		if err := binary.Write(out, binary.LittleEndian, a); err != nil {
			return err
		}
		v, err := encodeValue(value)
		if err != nil {
			return err
		}
		_, err = out.Write(v[:])
		return err
	})
}

// Deserialize reads cells written by Serialize, allocating segments as
// needed.
func (m *Memory) Deserialize(in io.Reader) error {
	for {
		var a uint64
		if err := binary.Read(in, binary.LittleEndian, &a); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		addr, err := decodeAddr(a)
		if err != nil {
			return err
		}
		var v [FieldSize]byte
		if _, err := io.ReadFull(in, v[:]); err != nil {
			return fmt.Errorf("truncated value for address %s: %w", addr, err)
		}
		value, err := decodeValue(v)
		if err != nil {
			return err
		}
		for m.NumSegments() <= addr.Segment {
			m.addSegment()
		}
		if r, ok := value.Relocatable(); ok {
			for m.NumSegments() <= r.Segment {
				m.addSegment()
			}
		}
		if err := m.Write(addr, value); err != nil {
			return err
		}
	}
}
