package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joeandaverde/tinyvdbe/engine"
	"github.com/joeandaverde/tinyvdbe/internal/vm"
)

// RunCommand opens a database file and scans a single table's rows to
// completion, printing each as it's produced. It exists to demonstrate the
// engine end to end without a query language in front of it: the root
// page and column count describe the table to scan directly.
type RunCommand struct {
	ShutDownCh <-chan struct{}
}

func (c *RunCommand) Help() string {
	helpText := `
Usage: tinyvdbe run <path> <root-page> <num-columns>

Scans every row of the table b-tree rooted at root-page in the database
file at path, printing num-columns column values plus the rowid per row.
`
	return strings.TrimSpace(helpText)
}

func (c *RunCommand) Synopsis() string {
	return "Scans a table b-tree and prints its rows"
}

func (c *RunCommand) Run(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, c.Help())
		return 1
	}

	path := args[0]
	rootPage, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid root page: %s\n", err)
		return 1
	}
	numColumns, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid column count: %s\n", err)
		return 1
	}

	e, err := engine.Open(&engine.Config{DataPath: path, CacheCapacity: 64})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %s\n", err)
		return 1
	}
	defer e.Close()

	program := buildTableScan(rootPage, numColumns)

	state := e.Prepare(program)
	for {
		result, err := e.Step(program, state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error stepping program: %s\n", err)
			return 1
		}

		switch result.Status {
		case vm.StepRow:
			fmt.Println(formatRow(result.Row))
		case vm.StepIO:
			if _, err := e.PumpIO(); err != nil {
				fmt.Fprintf(os.Stderr, "error pumping io: %s\n", err)
				return 1
			}
		case vm.StepDone:
			return 0
		}
	}
}

func formatRow(row vm.Row) string {
	parts := make([]string, len(row.Values))
	for i, v := range row.Values {
		parts[i] = v.String()
	}
	return strings.Join(parts, "|")
}

// buildTableScan assembles the fixed program shape every scan runs: open a
// read cursor on rootPage, rewind it, then loop column-read/result-row/next
// until the cursor is exhausted.
func buildTableScan(rootPage int, numColumns int) *vm.Program {
	b := vm.NewProgramBuilder()

	init := b.EmitPlaceholder()
	b.EmitInsn(vm.Instruction{Op: vm.OpTransaction})

	cursorID := b.AllocCursorID()
	b.EmitInsn(vm.Instruction{Op: vm.OpOpenReadAsync, CursorID: cursorID, RootPage: vm.PageIdx(rootPage)})
	b.EmitInsn(vm.Instruction{Op: vm.OpOpenReadAwait})
	b.EmitInsn(vm.Instruction{Op: vm.OpRewindAsync, CursorID: cursorID})
	rewindAwait := b.EmitPlaceholder()

	loopStart := b.Offset()
	firstReg := b.NextFreeRegister()
	for i := 0; i < numColumns; i++ {
		reg := b.AllocRegister()
		b.EmitInsn(vm.Instruction{Op: vm.OpColumn, CursorID: cursorID, Column: i, Dest: reg})
	}
	rowIDReg := b.AllocRegister()
	b.EmitInsn(vm.Instruction{Op: vm.OpRowID, CursorID: cursorID, Dest: rowIDReg})
	b.EmitInsn(vm.Instruction{Op: vm.OpResultRow, RegStart: firstReg, RegEnd: rowIDReg + 1})

	b.EmitInsn(vm.Instruction{Op: vm.OpNextAsync, CursorID: cursorID})
	b.EmitInsn(vm.Instruction{Op: vm.OpNextAwait, CursorID: cursorID, BranchPC: loopStart})

	haltTarget := b.Offset()
	b.EmitInsn(vm.Instruction{Op: vm.OpHalt})

	b.FixupInsn(init, vm.Instruction{Op: vm.OpInit, Target: 1})
	b.FixupInsn(rewindAwait, vm.Instruction{Op: vm.OpRewindAwait, CursorID: cursorID, BranchPC: haltTarget})

	return b.Build()
}
