package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/cairovm/cairogo/felt"
	"github.com/ethereum-optimism/cairovm/cairogo/instruction"
)

func Decode(ctx *cli.Context) error {
	if ctx.NArg() < 1 || ctx.NArg() > 2 {
		return errors.New("expected an instruction word and an optional immediate")
	}
	word := ctx.Args().Get(0)
	if !strings.HasPrefix(word, "0x") {
		word = "0x" + word
	}
	encoding, err := hexutil.DecodeUint64(word)
	if err != nil {
		return fmt.Errorf("invalid instruction word %q: %w", ctx.Args().Get(0), err)
	}
	var imm *felt.Felt
	if ctx.NArg() == 2 {
		v, err := felt.FromString(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		imm = &v
	}
	inst, err := instruction.Decode(encoding, imm)
	if err != nil {
		return err
	}
	offsets := instruction.BiasedOffsets(encoding)
	fmt.Fprintln(ctx.App.Writer, inst)
	fmt.Fprintf(ctx.App.Writer, "flags=%#04x off0=%#04x off1=%#04x off2=%#04x size=%d\n",
		instruction.FlagsOf(encoding), offsets[0], offsets[1], offsets[2], inst.Size())
	return nil
}

var DecodeCommand = &cli.Command{
	Name:        "decode",
	Usage:       "Decode a Cairo instruction word",
	Description: "Decode a hex Cairo instruction word, followed by its immediate if it takes one.",
	ArgsUsage:   "<word> [immediate]",
	Action:      Decode,
}
