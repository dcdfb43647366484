package value

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liquidev/mica/gc"
)

func TestUpvalueOpenAliasesSlot(t *testing.T) {
	stack := make([]Value, 4)
	stack[1] = NewNumber(10)

	uv := OpenUpvalue(&stack[1])
	assert.True(t, uv.IsOpen())
	assert.Equal(t, 10.0, uv.Get().AsNumber())

	// Writes through the stack are visible through the upvalue and vice
	// versa: both paths reach the same slot.
	stack[1] = NewNumber(11)
	assert.Equal(t, 11.0, uv.Get().AsNumber())
	uv.Set(NewNumber(12))
	assert.Equal(t, 12.0, stack[1].AsNumber())
}

func TestUpvalueClose(t *testing.T) {
	stack := make([]Value, 4)
	stack[0] = NewNumber(7)

	uv := OpenUpvalue(&stack[0])
	uv.Close()
	assert.False(t, uv.IsOpen())

	// The closed upvalue holds the last written value and no longer
	// observes the slot.
	assert.Equal(t, 7.0, uv.Get().AsNumber())
	stack[0] = NewNumber(99)
	assert.Equal(t, 7.0, uv.Get().AsNumber())

	// Writes after closing stay in the owned cell.
	uv.Set(NewNumber(8))
	assert.Equal(t, 8.0, uv.Get().AsNumber())
	assert.Equal(t, 99.0, stack[0].AsNumber())
}

func TestUpvalueCloseIsIdempotent(t *testing.T) {
	stack := make([]Value, 1)
	stack[0] = NewNumber(1)
	uv := OpenUpvalue(&stack[0])
	uv.Close()
	uv.Set(NewNumber(2))
	uv.Close()
	assert.Equal(t, 2.0, uv.Get().AsNumber(), "second Close must not re-copy from the dead slot")
}

func TestDispatchTableGrowth(t *testing.T) {
	dt := NewDispatchTable("thing", InstanceDTable)
	_, ok := dt.Method(3)
	assert.False(t, ok)

	h := gc.Alloc(Closure{Name: "m"})
	dt.SetMethod(3, h)

	got, ok := dt.Method(3)
	assert.True(t, ok)
	assert.Equal(t, h, got)
	_, ok = dt.Method(1)
	assert.False(t, ok, "slots below a grown index stay absent")
	_, ok = dt.Method(10)
	assert.False(t, ok, "out-of-range indexes are absent, not a panic")
}
