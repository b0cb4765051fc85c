package manifest

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is what a condition sees. Result is set for set-result entries and
// Exception for replace-exception entries.
type Env struct {
	Args      []any  `expr:"args"`
	Result    any    `expr:"result"`
	Exception string `expr:"exception"`
}

type condition struct {
	src  string
	prog *vm.Program
}

// compileCondition compiles src. An empty source always matches.
func compileCondition(src string) (*condition, error) {
	if src == "" {
		return nil, nil
	}

	prog, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("when %q: %w", src, err)
	}
	return &condition{src: src, prog: prog}, nil
}

// match evaluates the condition. Evaluation errors panic, so they surface
// as an exception in the patched method.
func (c *condition) match(env Env) bool {
	if c == nil {
		return true
	}

	out, err := expr.Run(c.prog, env)
	if err != nil {
		panic(fmt.Errorf("when %q: %w", c.src, err))
	}
	return out.(bool)
}
