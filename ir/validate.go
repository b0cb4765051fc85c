package ir

import (
	"errors"
	"fmt"
	"reflect"
)

// Validate checks that m's body is well formed: operands have the right
// types, labels resolve, blocks nest, and the stream ends with a terminal
// instruction. It does not verify stack depth or operand types at run time.
func Validate(m *Method) error {
	if m.Body == nil {
		return fmt.Errorf("%s: no body", m.Name)
	}
	if m.Type == nil || m.Type.Kind() != reflect.Func {
		return fmt.Errorf("%s: type is not a function", m.Name)
	}

	b := m.Body
	if len(b.Instrs) == 0 {
		return fmt.Errorf("%s: empty body", m.Name)
	}

	targets, err := b.Targets()
	if err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}
	if _, err := b.Regions(); err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}

	locals := make(map[*Local]bool, len(b.Locals))
	for _, l := range b.Locals {
		locals[l] = true
	}

	var errs []error
	for i, in := range b.Instrs {
		if err := validateOperand(m, in, targets, locals); err != nil {
			errs = append(errs, fmt.Errorf("instruction %d (%v): %w", i, in.Op, err))
		}
	}

	if last := b.Instrs[len(b.Instrs)-1]; !last.Op.IsTerminal() {
		errs = append(errs, fmt.Errorf("last instruction %v falls off the end", last.Op))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", m.Name, errors.Join(errs...))
	}
	return nil
}

func validateOperand(m *Method, in Instruction, targets map[Label]int, locals map[*Local]bool) error {
	switch in.Op {
	case LdArg, LdArgA, StArg:
		n, ok := in.Arg.(int)
		if !ok {
			return fmt.Errorf("operand must be an argument index, got %T", in.Arg)
		}
		if n < 0 || n >= m.Type.NumIn() {
			return fmt.Errorf("argument %d out of range", n)
		}
	case LdLoc, LdLocA, StLoc:
		l, ok := in.Arg.(*Local)
		if !ok {
			return fmt.Errorf("operand must be a local, got %T", in.Arg)
		}
		if !locals[l] {
			return fmt.Errorf("local %v is not declared in this body", l)
		}
	case LdZero:
		if _, ok := in.Arg.(reflect.Type); !ok {
			return fmt.Errorf("operand must be a type, got %T", in.Arg)
		}
	case Call:
		callee, ok := in.Arg.(*Method)
		if !ok || callee == nil {
			return fmt.Errorf("operand must be a method, got %T", in.Arg)
		}
		if callee.Body == nil && !callee.Func.IsValid() {
			return fmt.Errorf("method %s has no implementation", callee.Name)
		}
	case Br, BrTrue, BrFalse, Leave:
		l, ok := in.Arg.(Label)
		if !ok {
			return fmt.Errorf("operand must be a label, got %T", in.Arg)
		}
		if _, ok := targets[l]; !ok {
			return fmt.Errorf("label L%d is not attached to any instruction", l)
		}
	case LdConst:
		// Any constant, including nil.
	default:
		if in.Arg != nil {
			return fmt.Errorf("unexpected operand %v", in.Arg)
		}
	}
	return nil
}
