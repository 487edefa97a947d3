package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/cairovm/cairogo/pie"
)

func PieCheck(ctx *cli.Context) error {
	path := ctx.Path(PieCheckInputFlag.Name)
	p, err := pie.ReadFile(path)
	if err != nil {
		return err
	}
	if err := p.RunValidityChecks(); err != nil {
		return fmt.Errorf("cairo pie %q is invalid: %w", path, err)
	}
	fmt.Fprintf(ctx.App.Writer, "cairo pie is valid: %d steps\n", p.ExecutionResources.NSteps)
	return nil
}

var PieCheckCommand = &cli.Command{
	Name:        "pie-check",
	Usage:       "Check a cairo pie",
	Description: "Load a cairo pie zip archive and run its validity checks.",
	Action:      PieCheck,
	Flags: []cli.Flag{
		PieCheckInputFlag,
	},
}
