package asm_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/liquidev/mica/asm"
	"github.com/liquidev/mica/bytecode"
	"github.com/liquidev/mica/env"
	"github.com/liquidev/mica/value"
	"github.com/liquidev/mica/vm"
)

type programCase struct {
	Name    string             `yaml:"name"`
	Asm     string             `yaml:"asm"`
	Want    any                `yaml:"want"`
	Error   string             `yaml:"error"`
	Globals map[string]float64 `yaml:"globals"`
}

// TestExecPrograms loads the fixture manifest in testdata/programs.yaml,
// assembles each program into a fresh Environment and runs it on a fresh
// Fiber, asserting either the halt value or the failure message.
func TestExecPrograms(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("testdata", "programs.yaml"))
	require.NoError(t, err)

	var cases []programCase
	require.NoError(t, yaml.Unmarshal(b, &cases))
	require.NotEmpty(t, cases)

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			e := env.NewEnvironment()
			chunk, err := asm.Assemble(e, []byte(tc.Asm))
			require.NoError(t, err)

			fiber := vm.NewFiber(e)
			res, err := fiber.Start(chunk)
			if tc.Error != "" {
				require.ErrorContains(t, err, tc.Error)
				return
			}
			require.NoError(t, err)
			assertValue(t, tc.Want, res)

			for name, want := range tc.Globals {
				slot, ok := e.GetGlobal(name)
				require.True(t, ok, "global %s was never interned", name)
				got := e.GlobalValue(slot)
				if assert.Equal(t, value.KindNumber, got.Kind(), "global %s", name) {
					assert.Equal(t, want, got.AsNumber(), "global %s", name)
				}
			}
		})
	}
}

func assertValue(t *testing.T, want any, got value.Value) {
	t.Helper()
	switch w := want.(type) {
	case nil:
		assert.Equal(t, value.KindNil, got.Kind())
	case bool:
		if assert.Equal(t, value.KindBoolean, got.Kind()) {
			assert.Equal(t, w, got.AsBoolean())
		}
	case int:
		if assert.Equal(t, value.KindNumber, got.Kind()) {
			assert.Equal(t, float64(w), got.AsNumber())
		}
	case float64:
		if assert.Equal(t, value.KindNumber, got.Kind()) {
			assert.Equal(t, w, got.AsNumber())
		}
	case string:
		if assert.Equal(t, value.KindString, got.Kind()) {
			assert.Equal(t, w, *got.AsString().Get())
		}
	default:
		t.Fatalf("unsupported want type %T", want)
	}
}

// TestAssembleErrors exercises the assembler's own failure modes, separate
// from runtime failures of assembled programs.
func TestAssembleErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"missing module", "main: 0\n\tcode:\n\t\thalt\n", "expected 'module: NAME'"},
		{"missing main", "module: m\n", "expected 'main: <stack>'"},
		{"unknown opcode", "module: m\nmain: 0\n\tcode:\n\t\tfrobnicate\n", `unknown opcode "frobnicate"`},
		{"unknown function", "module: m\nmain: 0\n\tcode:\n\t\tcreate_closure nope\n", `unknown function "nope"`},
		{"bad signature", "module: m\nmain: 0\n\tcode:\n\t\tcall_method nope 0\n", "invalid method signature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := asm.Assemble(env.NewEnvironment(), []byte(tc.src))
			require.ErrorContains(t, err, tc.want)
		})
	}
}

// TestAssembleRoundTripsThroughDisassembler pins the assembled encoding by
// disassembling it: jump operands written as instruction indexes must come
// out as the byte offsets the VM actually jumps to.
func TestAssembleRoundTripsThroughDisassembler(t *testing.T) {
	src := `
module: roundtrip
main: 0
	code:
		push_true
		jump_forward_if_falsy 4
		discard
		push_number 1
		halt
`
	e := env.NewEnvironment()
	chunk, err := asm.Assemble(e, []byte(src))
	require.NoError(t, err)

	// Instruction 4 (halt) sits at byte offset 4+4+4+9 = 21.
	text := bytecode.Disassemble(chunk)
	assert.Contains(t, text, "jump_forward_if_falsy -> 0021")
}
