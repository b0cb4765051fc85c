package ir

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Parse reads IR methods in the text format produced by Format:
//
//	# comment
//	func add(int, int) int
//	    .local tmp int
//	    ldarg 0
//	    ldarg 1
//	    add
//	    ret
//	end
//
// Labels are written as "name:" on their own line and attach to the next
// instruction, as do the block directives .try, .catch, .finally and .end.
// Call operands name another method in the same source or a Go function
// from funcs.
func Parse(src string, funcs map[string]any) (*Program, error) {
	prog := NewProgram()

	type pending struct {
		method *Method
		lines  []numberedLine
	}
	var (
		methods []pending
		cur     *pending
	)

	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "func "):
			if cur != nil {
				return nil, fmt.Errorf("line %d: func %s is missing end", lineNo, cur.method.Name)
			}
			name, typ, err := parseSignature(strings.TrimPrefix(line, "func "))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			m := NewMethod(name, typ, &Body{})
			if err := prog.Add(m); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			methods = append(methods, pending{method: m})
			cur = &methods[len(methods)-1]
		case line == "end":
			if cur == nil {
				return nil, fmt.Errorf("line %d: end outside of func", lineNo)
			}
			cur = nil
		default:
			if cur == nil {
				return nil, fmt.Errorf("line %d: instruction outside of func", lineNo)
			}
			cur.lines = append(cur.lines, numberedLine{no: lineNo, text: line})
		}
	}
	if cur != nil {
		return nil, fmt.Errorf("func %s is missing end", cur.method.Name)
	}

	p := &parser{prog: prog, funcs: funcs, goFuncs: make(map[string]*Method)}
	for _, pm := range methods {
		if err := p.parseBody(pm.method, pm.lines); err != nil {
			return nil, err
		}
	}

	return prog, nil
}

// ParseMethod parses a source containing a single method.
func ParseMethod(src string, funcs map[string]any) (*Method, error) {
	prog, err := Parse(src, funcs)
	if err != nil {
		return nil, err
	}
	ms := prog.Methods()
	if len(ms) != 1 {
		return nil, fmt.Errorf("expected one method, found %d", len(ms))
	}
	return ms[0], nil
}

type numberedLine struct {
	no   int
	text string
}

type parser struct {
	prog    *Program
	funcs   map[string]any
	goFuncs map[string]*Method
}

func (p *parser) parseBody(m *Method, lines []numberedLine) error {
	body := m.Body
	b := NewBuilder(body)
	labels := make(map[string]Label)
	label := func(name string) Label {
		l, ok := labels[name]
		if !ok {
			l = body.DefineLabel()
			labels[name] = l
		}
		return l
	}
	locals := make(map[string]*Local)

	for _, ln := range lines {
		fail := func(format string, args ...any) error {
			return fmt.Errorf("line %d: %s: %s", ln.no, m.Name, fmt.Sprintf(format, args...))
		}

		text := ln.text
		switch {
		case strings.HasSuffix(text, ":") && !strings.ContainsAny(text, " \t\""):
			b.Mark(label(strings.TrimSuffix(text, ":")))
			continue
		case strings.HasPrefix(text, ".local "):
			fields := strings.Fields(text)
			if len(fields) != 3 {
				return fail("expected .local <name> <type>")
			}
			t, err := ParseType(fields[2])
			if err != nil {
				return fail("%v", err)
			}
			if _, ok := locals[fields[1]]; ok {
				return fail("duplicate local %s", fields[1])
			}
			locals[fields[1]] = body.DeclareLocal(t, fields[1])
			continue
		}

		switch text {
		case ".try":
			b.Block(BeginTry)
			continue
		case ".catch":
			b.Block(BeginCatch)
			continue
		case ".finally":
			b.Block(BeginFinally)
			continue
		case ".end":
			b.Block(EndBlock)
			continue
		}

		mnemonic, operand, _ := strings.Cut(text, " ")
		operand = strings.TrimSpace(operand)
		op, ok := opByName[mnemonic]
		if !ok {
			return fail("unknown instruction %q", mnemonic)
		}

		var arg any
		switch op {
		case LdArg, LdArgA, StArg:
			n, err := strconv.Atoi(operand)
			if err != nil {
				return fail("bad argument index %q", operand)
			}
			arg = n
		case LdLoc, LdLocA, StLoc:
			l, ok := locals[operand]
			if !ok {
				return fail("unknown local %q", operand)
			}
			arg = l
		case LdConst:
			c, err := ParseConst(operand)
			if err != nil {
				return fail("%v", err)
			}
			arg = c
		case LdZero:
			t, err := ParseType(operand)
			if err != nil {
				return fail("%v", err)
			}
			arg = t
		case Call:
			callee, err := p.callee(operand)
			if err != nil {
				return fail("%v", err)
			}
			arg = callee
		case Br, BrTrue, BrFalse, Leave:
			if operand == "" {
				return fail("%v needs a label", op)
			}
			arg = label(operand)
		default:
			if operand != "" {
				return fail("%v takes no operand", op)
			}
		}

		b.Emit(op, arg)
	}

	b.Body()
	return nil
}

func (p *parser) callee(name string) (*Method, error) {
	if m, ok := p.prog.Lookup(name); ok {
		return m, nil
	}
	if m, ok := p.goFuncs[name]; ok {
		return m, nil
	}
	fn, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	m, err := FromFunc(fn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	p.goFuncs[name] = m
	return m, nil
}

// ParseConst parses a constant operand: nil, true, false, a quoted string,
// an integer (int), a float (float64), or a conversion such as int64(5).
func ParseConst(s string) (any, error) {
	switch s {
	case "":
		return nil, fmt.Errorf("missing constant")
	case "nil":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	if strings.HasPrefix(s, `"`) {
		v, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("bad string constant %s: %w", s, err)
		}
		return v, nil
	}

	if open := strings.IndexByte(s, '('); open > 0 && strings.HasSuffix(s, ")") {
		t, err := ParseType(s[:open])
		if err != nil {
			return nil, err
		}
		return parseNumber(s[open+1:len(s)-1], t)
	}

	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return int(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("bad constant %q", s)
}

func parseNumber(s string, t reflect.Type) (any, error) {
	v := reflect.New(t).Elem()
	switch {
	case v.CanInt():
		n, err := strconv.ParseInt(s, 0, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetInt(n)
	case v.CanUint():
		n, err := strconv.ParseUint(s, 0, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetUint(n)
	case v.CanFloat():
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, err
		}
		v.SetFloat(f)
	default:
		return nil, fmt.Errorf("cannot convert %q to %v", s, t)
	}
	return v.Interface(), nil
}

func parseSignature(s string) (string, reflect.Type, error) {
	open := strings.IndexByte(s, '(')
	end := strings.IndexByte(s, ')')
	if open <= 0 || end < open {
		return "", nil, fmt.Errorf("bad signature %q", s)
	}

	name := strings.TrimSpace(s[:open])
	ins, err := parseTypeList(s[open+1 : end])
	if err != nil {
		return "", nil, err
	}

	rest := strings.TrimSpace(s[end+1:])
	rest = strings.TrimSuffix(strings.TrimPrefix(rest, "("), ")")
	outs, err := parseTypeList(rest)
	if err != nil {
		return "", nil, err
	}

	return name, reflect.FuncOf(ins, outs, false), nil
}

func parseTypeList(s string) ([]reflect.Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var types []reflect.Type
	for _, part := range strings.Split(s, ",") {
		t, err := ParseType(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
