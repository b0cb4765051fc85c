package splice

import (
	"fmt"

	"github.com/pboyd/splice/ir"
)

// ReplaceConst returns a transform that swaps every constant load of old
// for a load of repl.
func ReplaceConst(old, repl any) TransformFunc {
	return func(instrs []ir.Instruction, _ ir.Generator, _ *ir.Method) ([]ir.Instruction, error) {
		m := ir.NewMatcher(instrs)
		for m.Find(ir.Is(ir.LdConst, old)) {
			m.Set(ir.LdConst, repl).Advance(1)
		}
		return m.Instructions(), nil
	}
}

// RedirectCall returns a transform that makes calls to from call to
// instead. The two must have the same signature.
func RedirectCall(from, to *ir.Method) TransformFunc {
	return func(instrs []ir.Instruction, _ ir.Generator, _ *ir.Method) ([]ir.Instruction, error) {
		if err := ir.CompareSignatures(from.Type, to.Type); err != nil {
			return nil, fmt.Errorf("redirect %s to %s: %w", from, to, err)
		}

		m := ir.NewMatcher(instrs)
		for m.Find(ir.CallsTo(from)) {
			m.Set(ir.Call, to).Advance(1)
		}
		return m.Instructions(), nil
	}
}

// RecoverAs returns a manipulator that catches any exception raised by
// the body and returns the given results instead. A nil result returns the
// zero value.
func RecoverAs(results ...any) ManipulateFunc {
	return func(body *ir.Body, original *ir.Method) error {
		outs := original.Outs()
		if len(results) != len(outs) {
			return fmt.Errorf("%d results for a method returning %d", len(results), len(outs))
		}
		if len(body.Instrs) == 0 {
			return fmt.Errorf("empty body")
		}

		handler := []ir.Instruction{ir.Instr(ir.Pop, nil)}
		for i, r := range results {
			if r == nil {
				handler = append(handler, ir.Instr(ir.LdZero, outs[i]))
			} else {
				handler = append(handler, ir.Instr(ir.LdConst, r))
			}
		}
		handler = append(handler, ir.Instr(ir.Ret, nil))

		_, err := body.Protect(0, len(body.Instrs), ir.BeginCatch, handler)
		return err
	}
}
