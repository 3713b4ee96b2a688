// Package vm implements the register-based bytecode machine that drives a
// table scan one suspendable Step at a time: each Step either produces a
// result row, signals that it is waiting on a page fetch, or reports the
// program has halted.
package vm

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/joeandaverde/tinyvdbe/internal/btreecursor"
	"github.com/joeandaverde/tinyvdbe/internal/pager"
)

// Program is an immutable, already-built instruction sequence plus the
// register budget it needs.
type Program struct {
	MaxRegisters int
	Instructions []Instruction
	Type         ProgramType

	PragmaName  string
	PragmaValue int64
}

// ProgramState is the mutable execution context one program run threads
// through successive Step calls: the program counter, the register file,
// and the table of opened cursors keyed by the id the builder assigned
// them. A fresh ProgramState is needed per concurrent execution of a
// Program; the Program itself is read-only and may be shared.
type ProgramState struct {
	PC        BranchOffset
	registers []Value
	cursors   map[CursorID]btreecursor.Cursor
}

// NewProgramState allocates a ProgramState sized for a Program with the
// given register budget.
func NewProgramState(maxRegisters int) *ProgramState {
	registers := make([]Value, maxRegisters)
	return &ProgramState{
		registers: registers,
		cursors:   make(map[CursorID]btreecursor.Cursor),
	}
}

// ColumnCount is the number of registers available, matching the width a
// result row may read from.
func (s *ProgramState) ColumnCount() int {
	return len(s.registers)
}

// Column renders register i the way a client-facing result column does.
func (s *ProgramState) Column(i int) string {
	return s.registers[i].String()
}

// Reset rewinds a ProgramState to run its Program again from the top,
// closing any cursors it had opened.
func (s *ProgramState) Reset() {
	s.PC = 0
	for _, c := range s.cursors {
		c.Close()
	}
	for k := range s.cursors {
		delete(s.cursors, k)
	}
	for i := range s.registers {
		s.registers[i] = Null
	}
}

// StepStatus tags what a Step call produced.
type StepStatus int

const (
	// StepRow means state.Row holds a fresh result row; the caller should
	// consume it and call Step again to continue the program.
	StepRow StepStatus = iota
	// StepIO means the instruction at state.PC needs a page that isn't
	// cached yet. The caller must pump the pager's backend reactor and
	// call Step again; the same instruction will be retried, and the
	// retry is safe to repeat because no register or cursor mutation is
	// committed until the underlying cursor operation fully succeeds.
	StepIO
	// StepDone means the program halted; there are no more rows.
	StepDone
)

// Row is a materialized result row: one Value per register in the
// [RegStart, RegEnd) range a ResultRow instruction named.
type Row struct {
	Values []Value
}

// StepResult is the outcome of one Step call.
type StepResult struct {
	Status StepStatus
	Row    Row
}

// Step runs instructions starting at state.PC until the program produces a
// row, suspends on pending I/O, or halts. p supplies the pages cursors
// read; logger receives per-instruction trace output when trace level is
// enabled.
func (prog *Program) Step(state *ProgramState, p *pager.Pager, logger *log.Logger) (StepResult, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	for {
		if int(state.PC) >= len(prog.Instructions) {
			return StepResult{Status: StepDone}, nil
		}
		insn := prog.Instructions[state.PC]
		traceInsn(logger, int(state.PC), insn)

		switch insn.Op {
		case OpInit:
			state.PC = insn.Target

		case OpOpenReadAsync:
			state.cursors[insn.CursorID] = btreecursor.NewBTreeCursor(p, int(insn.RootPage), fmt.Sprintf("cursor%d", insn.CursorID), logger)
			state.PC++

		case OpOpenReadAwait:
			state.PC++

		case OpRewindAsync:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			result, err := cur.Rewind()
			if err != nil {
				return StepResult{}, wrapError(ErrCorrupt, err, "rewinding cursor %d", insn.CursorID)
			}
			if result == btreecursor.ResultIO {
				return StepResult{Status: StepIO}, nil
			}
			state.PC++

		case OpRewindAwait:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			if err := cur.WaitForCompletion(); err != nil {
				return StepResult{}, wrapError(ErrIO, err, "completing rewind on cursor %d", insn.CursorID)
			}
			if cur.IsEmpty() {
				state.PC = insn.BranchPC
			} else {
				state.PC++
			}

		case OpColumn:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			rec, err := cur.Record()
			if err != nil {
				return StepResult{}, wrapError(ErrInternal, err, "reading column %d from cursor %d", insn.Column, insn.CursorID)
			}
			if insn.Column < 0 || insn.Column >= len(rec.Values) {
				return StepResult{}, newError(ErrInternal, "column %d out of range for cursor %d record", insn.Column, insn.CursorID)
			}
			state.registers[insn.Dest] = FromColumn(rec.Values[insn.Column])
			state.PC++

		case OpResultRow:
			if insn.RegStart < 0 || insn.RegEnd > len(state.registers) || insn.RegStart > insn.RegEnd {
				return StepResult{}, newError(ErrInternal, "result row register range [%d,%d) invalid", insn.RegStart, insn.RegEnd)
			}
			values := make([]Value, insn.RegEnd-insn.RegStart)
			copy(values, state.registers[insn.RegStart:insn.RegEnd])
			state.PC++
			return StepResult{Status: StepRow, Row: Row{Values: values}}, nil

		case OpNextAsync:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			result, err := cur.Next()
			if err != nil {
				return StepResult{}, wrapError(ErrCorrupt, err, "advancing cursor %d", insn.CursorID)
			}
			if result == btreecursor.ResultIO {
				return StepResult{Status: StepIO}, nil
			}
			state.PC++

		case OpNextAwait:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			if err := cur.WaitForCompletion(); err != nil {
				return StepResult{}, wrapError(ErrIO, err, "completing advance on cursor %d", insn.CursorID)
			}
			if !cur.IsEmpty() {
				state.PC = insn.BranchPC
			} else {
				state.PC++
			}

		case OpHalt:
			for _, c := range state.cursors {
				c.Close()
			}
			return StepResult{Status: StepDone}, nil

		case OpTransaction:
			state.PC++

		case OpGoto:
			state.PC = insn.Target

		case OpInteger:
			state.registers[insn.Dest] = IntegerValue(insn.Value)
			state.PC++

		case OpString8:
			state.registers[insn.Dest] = TextValue(insn.Text)
			state.PC++

		case OpRowID:
			cur, err := state.cursor(insn.CursorID)
			if err != nil {
				return StepResult{}, err
			}
			rowID, err := cur.RowID()
			if err != nil {
				return StepResult{}, wrapError(ErrInternal, err, "reading rowid from cursor %d", insn.CursorID)
			}
			state.registers[insn.Dest] = IntegerValue(rowID)
			state.PC++

		case OpDecrJumpZero:
			reg := state.registers[insn.Reg]
			if reg.Kind != KindInteger {
				return StepResult{}, newError(ErrInternal, "DecrJumpZero on non-integer register %d", insn.Reg)
			}
			// Deliberately asymmetric with a conventional decrement-and-test
			// loop counter: a register already at or below zero jumps
			// without being decremented further.
			if reg.Integer > 0 {
				state.registers[insn.Reg] = IntegerValue(reg.Integer - 1)
				state.PC++
			} else {
				state.PC = insn.Target
			}

		default:
			return StepResult{}, newError(ErrInternal, "unknown opcode %v at pc %d", insn.Op, state.PC)
		}
	}
}

func (s *ProgramState) cursor(id CursorID) (btreecursor.Cursor, error) {
	c, ok := s.cursors[id]
	if !ok {
		return nil, newError(ErrNotFound, "no cursor with id %d is open", id)
	}
	return c, nil
}

func traceInsn(logger *log.Logger, addr int, insn Instruction) {
	if !logger.IsLevelEnabled(log.TraceLevel) {
		return
	}
	logger.WithFields(log.Fields{
		"addr": addr,
		"op":   insn.Op.String(),
	}).Trace(insnComment(insn))
}

func insnComment(insn Instruction) string {
	switch insn.Op {
	case OpInit, OpGoto:
		return fmt.Sprintf("target=%d", insn.Target)
	case OpOpenReadAsync:
		return fmt.Sprintf("cursor=%d root=%d", insn.CursorID, insn.RootPage)
	case OpRewindAsync, OpNextAsync:
		return fmt.Sprintf("cursor=%d", insn.CursorID)
	case OpRewindAwait:
		return fmt.Sprintf("cursor=%d pc_if_empty=%d", insn.CursorID, insn.BranchPC)
	case OpNextAwait:
		return fmt.Sprintf("cursor=%d pc_if_next=%d", insn.CursorID, insn.BranchPC)
	case OpColumn:
		return fmt.Sprintf("r[%d]=cursor %d column %d", insn.Dest, insn.CursorID, insn.Column)
	case OpResultRow:
		return fmt.Sprintf("output=r[%d..%d]", insn.RegStart, insn.RegEnd)
	case OpInteger:
		return fmt.Sprintf("r[%d]=%d", insn.Dest, insn.Value)
	case OpString8:
		return fmt.Sprintf("r[%d]='%s'", insn.Dest, insn.Text)
	case OpRowID:
		return fmt.Sprintf("r[%d]=cursor %d rowid", insn.Dest, insn.CursorID)
	case OpDecrJumpZero:
		return fmt.Sprintf("if r[%d]>0 then r[%d]-- else jump %d", insn.Reg, insn.Reg, insn.Target)
	default:
		return ""
	}
}

// Explain writes a disassembly of the program's instructions, one per
// line, in the classic addr/opcode/operands/comment column layout.
func (prog *Program) Explain(w io.Writer) {
	fmt.Fprintln(w, "addr  opcode         p1    p2    p3    p4             comment")
	fmt.Fprintln(w, "----  -------------  ----  ----  ----  -------------  -------")
	for addr, insn := range prog.Instructions {
		fmt.Fprintf(w, "%-4d  %-13s  %-4d  %-4d  %-4d  %-13s  %s\n",
			addr, insn.Op.String(), explainP1(insn), explainP2(insn), explainP3(insn), insn.Text, insnComment(insn))
	}
}

func explainP1(insn Instruction) int {
	switch insn.Op {
	case OpOpenReadAsync, OpRewindAsync, OpRewindAwait, OpNextAsync, OpNextAwait, OpRowID:
		return int(insn.CursorID)
	case OpInteger, OpString8:
		return insn.Dest
	case OpDecrJumpZero:
		return insn.Reg
	case OpResultRow:
		return insn.RegStart
	default:
		return 0
	}
}

func explainP2(insn Instruction) int {
	switch insn.Op {
	case OpInit, OpGoto, OpDecrJumpZero:
		return int(insn.Target)
	case OpOpenReadAsync:
		return int(insn.RootPage)
	case OpRewindAwait, OpNextAwait:
		return int(insn.BranchPC)
	case OpColumn:
		return insn.Column
	case OpResultRow:
		return insn.RegEnd
	case OpInteger:
		return int(insn.Value)
	case OpRowID:
		return insn.Dest
	default:
		return 0
	}
}

func explainP3(insn Instruction) int {
	switch insn.Op {
	case OpColumn:
		return insn.Dest
	default:
		return 0
	}
}
