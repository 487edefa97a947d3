package builtins

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum-optimism/cairovm/cairogo/crypto"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

const (
	keccakInputs    = 8
	keccakWordBytes = 25 // 200 bits
)

// KeccakRunner applies Keccak-f[1600] to the 1600-bit state formed by eight
// 200-bit little-endian input cells, producing eight output cells.
type KeccakRunner struct {
	simpleRunner
	cache map[uint64][keccakInputs]felt.Felt
}

func NewKeccak(def InstanceDef, included bool) *KeccakRunner {
	r := &KeccakRunner{
		simpleRunner: newSimpleRunner(Keccak, def, included, 2*keccakInputs, keccakInputs),
		cache:        make(map[uint64][keccakInputs]felt.Felt),
	}
	r.deduce = r.deduceOutput
	return r
}

func (r *KeccakRunner) deduceOutput(addr memory.Relocatable, mem *memory.Memory) (memory.MaybeRelocatable, bool, error) {
	start, idx := r.instance(addr)
	if idx < r.nInputCells {
		return memory.MaybeRelocatable{}, false, nil
	}
	if out, ok := r.cache[start.Offset]; ok {
		return memory.FromFelt(out[idx-r.nInputCells]), true, nil
	}
	in, ok := r.readInputs(mem, start)
	if !ok {
		return memory.MaybeRelocatable{}, false, nil
	}
	var state [keccakInputs * keccakWordBytes]byte
	for i, v := range in {
		f, ok := v.Felt()
		if !ok {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: keccak input at %s", ErrNotFelt, start.AddUint(uint64(i)))
		}
		if f.BitLen() > 8*keccakWordBytes {
			return memory.MaybeRelocatable{}, false, fmt.Errorf("%w: keccak input %s at %s exceeds 200 bits",
				ErrInputTooLarge, f, start.AddUint(uint64(i)))
		}
		le := f.Bytes32()
		copy(state[i*keccakWordBytes:], le[:keccakWordBytes])
	}
	var lanes [25]uint64
	for i := range lanes {
		lanes[i] = binary.LittleEndian.Uint64(state[8*i:])
	}
	crypto.KeccakF1600(&lanes)
	for i := range lanes {
		binary.LittleEndian.PutUint64(state[8*i:], lanes[i])
	}
	var out [keccakInputs]felt.Felt
	for i := range out {
		var le [32]byte
		copy(le[:], state[i*keccakWordBytes:(i+1)*keccakWordBytes])
		out[i] = felt.SetBytes32(le)
	}
	r.cache[start.Offset] = out
	return memory.FromFelt(out[idx-r.nInputCells]), true, nil
}
