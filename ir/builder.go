package ir

// Builder appends instructions to a body. Labels and block markers given
// to Mark and Block attach to the next instruction emitted.
type Builder struct {
	body   *Body
	labels []Label
	blocks []Block
}

func NewBuilder(b *Body) *Builder {
	return &Builder{body: b}
}

// Emit appends one instruction.
func (b *Builder) Emit(op Op, arg any) *Builder {
	return b.Append(Instr(op, arg))
}

// Append appends instructions as they are, adding any pending labels and
// blocks to the first one.
func (b *Builder) Append(instrs ...Instruction) *Builder {
	for _, in := range instrs {
		if len(b.labels) > 0 {
			in.Labels = append(b.labels, in.Labels...)
			b.labels = nil
		}
		if len(b.blocks) > 0 {
			in.Blocks = append(b.blocks, in.Blocks...)
			b.blocks = nil
		}
		b.body.Instrs = append(b.body.Instrs, in)
	}
	return b
}

// Mark attaches l to the next instruction.
func (b *Builder) Mark(l Label) *Builder {
	b.labels = append(b.labels, l)
	return b
}

// Block attaches a block marker to the next instruction.
func (b *Builder) Block(k Block) *Builder {
	b.blocks = append(b.blocks, k)
	return b
}

// DefineLabel allocates a label in the underlying body.
func (b *Builder) DefineLabel() Label {
	return b.body.DefineLabel()
}

// Body returns the body, emitting a nop to hold any labels or blocks
// still pending.
func (b *Builder) Body() *Body {
	if len(b.labels) > 0 || len(b.blocks) > 0 {
		b.Emit(Nop, nil)
	}
	return b.body
}
