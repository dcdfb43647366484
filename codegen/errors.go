package codegen

import "github.com/liquidev/mica/errs"

// Internal sentinel errors used by locals.go before a source location is
// available; wrap turns whichever of these bubbles up into a
// *errs.CompileError carrying the failing node's location.
var (
	errTooManyLocals   = errs.Kind(errs.TooManyLocals)
	errTooManyCaptures = errs.Kind(errs.TooManyCaptures)
)

// errs.Kind implements error so it can be returned and type-asserted by
// wrap to pick the right errs.CompileError kind.
