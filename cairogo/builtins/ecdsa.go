package builtins

import (
	"fmt"
	"sort"

	"github.com/ethereum-optimism/cairovm/cairogo/crypto"
	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/memory"
)

// Signature is an (r, s) pair supplied out of band for an instance.
type Signature struct {
	R felt.Felt `json:"r"`
	S felt.Felt `json:"s"`
}

// ECDSARunner checks instances (pubkey, msg) against signatures registered
// before the cells are written.
type ECDSARunner struct {
	simpleRunner
	signatures map[memory.Relocatable]Signature
}

func NewECDSA(def InstanceDef, included bool) *ECDSARunner {
	r := &ECDSARunner{
		simpleRunner: newSimpleRunner(ECDSA, def, included, 2, 2),
		signatures:   make(map[memory.Relocatable]Signature),
	}
	r.rule = r.validate
	r.additional = r.signatureList
	return r
}

// AddSignature registers the signature for the instance whose public key
// cell is addr.
func (r *ECDSARunner) AddSignature(addr memory.Relocatable, sig Signature) error {
	if addr.Segment != r.base.Segment || addr.Offset%r.cellsPerInstance != 0 {
		return fmt.Errorf("%w: %s is not an ecdsa public key cell", ErrInvalidSignature, addr)
	}
	r.signatures[addr] = sig
	return nil
}

func (r *ECDSARunner) validate(mem *memory.Memory, addr memory.Relocatable) ([]memory.Relocatable, error) {
	start, _ := r.instance(addr)
	msgAddr := start.AddUint(1)
	pubV, ok1 := mem.Get(start)
	msgV, ok2 := mem.Get(msgAddr)
	if !ok1 || !ok2 {
		return nil, nil
	}
	pub, okP := pubV.Felt()
	msg, okM := msgV.Felt()
	if !okP || !okM {
		return nil, fmt.Errorf("%w: ecdsa instance at %s", ErrNotFelt, start)
	}
	sig, ok := r.signatures[start]
	if !ok {
		return nil, fmt.Errorf("%w: ecdsa instance at %s", ErrMissingSignature, start)
	}
	if !crypto.VerifySignature(msg, sig.R, sig.S, pub) {
		return nil, fmt.Errorf("%w: public key %s, message %s, signature (%s, %s)", ErrInvalidSignature, pub, msg, sig.R, sig.S)
	}
	return []memory.Relocatable{start, msgAddr}, nil
}

type signatureEntry struct {
	Addr memory.Relocatable `json:"addr"`
	Signature
}

func (r *ECDSARunner) signatureList() any {
	out := make([]signatureEntry, 0, len(r.signatures))
	for addr, sig := range r.signatures {
		out = append(out, signatureEntry{Addr: addr, Signature: sig})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Offset < out[j].Addr.Offset })
	return out
}
