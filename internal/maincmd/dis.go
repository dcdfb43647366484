package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/liquidev/mica/asm"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
)

func (c *Cmd) Dis(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return DisassembleFiles(ctx, stdio, args...)
}

// DisassembleFiles assembles each file and prints the disassembly of every
// function chunk followed by the main chunk.
func DisassembleFiles(ctx context.Context, stdio mainer.Stdio, files ...string) error {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return printError(stdio, err)
		}

		b, err := os.ReadFile(file)
		if err != nil {
			return printError(stdio, err)
		}
		e := env.NewEnvironment()
		mainChunk, err := asm.Assemble(e, b)
		if err != nil {
			return printError(stdio, fmt.Errorf("%s: %w", file, err))
		}

		for i := 0; i < e.NumFunctions(); i++ {
			id, err := bytecode.NewOpr24(uint32(i))
			if err != nil {
				return printError(stdio, err)
			}
			fn := e.Function(id)
			if fn.Kind != env.Bytecode {
				continue
			}
			fmt.Fprintf(stdio.Stdout, "function %s:\n%s", fn.Name, bytecode.Disassemble(fn.Chunk))
		}
		fmt.Fprintf(stdio.Stdout, "main:\n%s", bytecode.Disassemble(mainChunk))
	}
	return nil
}
