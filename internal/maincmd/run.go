package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/liquidev/mica/asm"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/vm"
)

func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return RunFiles(ctx, stdio, c.config.StackSlots, args...)
}

// RunFiles assembles and executes each file on its own Environment and
// Fiber, printing the value the program halts with. stackSlots <= 0 uses
// the fiber's default stack depth.
func RunFiles(ctx context.Context, stdio mainer.Stdio, stackSlots int, files ...string) error {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return printError(stdio, err)
		}

		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}
		e := env.NewEnvironment()
		chunk, err := asm.Assemble(e, b)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}

		fiber := vm.NewFiberSize(e, stackSlots)
		res, err := fiber.Start(chunk)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}
		fmt.Fprintf(stdio.Stdout, "%s: %s\n", file, res)
	}
	return nil
}
