package vm

// ProgramType tags what kind of statement a built Program implements. Only
// Default programs run a cursor-driven query today; PragmaChange is
// carried forward from the instruction set this VM generalizes so a future
// pragma-handling program type has somewhere to attach its payload without
// another builder rewrite.
type ProgramType int

const (
	ProgramTypeDefault ProgramType = iota
	ProgramTypePragmaChange
)

// ProgramBuilder assembles an Instruction sequence, handing out register
// and cursor ids and patching forward branches, then freezes the result
// into an immutable Program.
type ProgramBuilder struct {
	nextRegister int
	nextCursor   int
	insns        []Instruction

	pragmaName  string
	pragmaValue int64
}

// NewProgramBuilder returns an empty builder.
func NewProgramBuilder() *ProgramBuilder {
	return &ProgramBuilder{}
}

// AllocRegister reserves the next free register and returns its index.
func (b *ProgramBuilder) AllocRegister() int {
	r := b.nextRegister
	b.nextRegister++
	return r
}

// NextFreeRegister reports the index the next AllocRegister call will
// return, without reserving it.
func (b *ProgramBuilder) NextFreeRegister() int {
	return b.nextRegister
}

// AllocCursorID reserves the next free cursor id and returns it.
func (b *ProgramBuilder) AllocCursorID() CursorID {
	c := b.nextCursor
	b.nextCursor++
	return CursorID(c)
}

// Offset returns the address the next emitted instruction will occupy.
func (b *ProgramBuilder) Offset() BranchOffset {
	return BranchOffset(len(b.insns))
}

// EmitPlaceholder reserves a slot (as a Halt) for an instruction whose
// branch target isn't known yet, returning its address for a later
// FixupInsn call.
func (b *ProgramBuilder) EmitPlaceholder() BranchOffset {
	offset := b.Offset()
	b.insns = append(b.insns, Instruction{Op: OpHalt})
	return offset
}

// EmitInsn appends an instruction and returns its address.
func (b *ProgramBuilder) EmitInsn(insn Instruction) BranchOffset {
	offset := b.Offset()
	b.insns = append(b.insns, insn)
	return offset
}

// FixupInsn overwrites a previously emitted instruction, typically one
// created by EmitPlaceholder once its branch target is known.
func (b *ProgramBuilder) FixupInsn(offset BranchOffset, insn Instruction) {
	b.insns[offset] = insn
}

// Build freezes the instruction sequence into a default query Program.
func (b *ProgramBuilder) Build() *Program {
	return &Program{
		MaxRegisters: b.nextRegister,
		Instructions: append([]Instruction(nil), b.insns...),
		Type:         ProgramTypeDefault,
	}
}

// BuildPragmaChange freezes the instruction sequence into a pragma-change
// Program carrying the pragma name and new value alongside it.
func (b *ProgramBuilder) BuildPragmaChange(pragma string, value int64) *Program {
	return &Program{
		MaxRegisters: b.nextRegister,
		Instructions: append([]Instruction(nil), b.insns...),
		Type:         ProgramTypePragmaChange,
		PragmaName:   pragma,
		PragmaValue:  value,
	}
}
