// Package engine is the embedding surface around the bytecode core: open
// a database file, build programs against it, and step them to
// completion. It owns the pager and the file backend; everything else
// (cursors, registers, dispatch) lives in internal/vm and
// internal/btreecursor and is driven through here.
package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/joeandaverde/tinyvdbe/internal/iofile"
	"github.com/joeandaverde/tinyvdbe/internal/pager"
	"github.com/joeandaverde/tinyvdbe/internal/vm"
)

// Config describes how to open a database and, for the listen command, how
// to accept client connections.
type Config struct {
	// DataPath is the database file on disk.
	DataPath string `yaml:"data_path"`
	// PageSize is not consulted by Open: an existing file's page size comes
	// from its own header, and a new or empty file gets
	// storage.DefaultPageSize whatever this field holds.
	PageSize int `yaml:"page_size"`
	// CacheCapacity bounds how many page frames the pager keeps resident.
	CacheCapacity int `yaml:"cache_capacity"`
	// Async selects the deferred-completion file backend over the
	// immediately-completing one; both satisfy the same iofile.File
	// contract; this only changes when IO-pending is actually observable.
	Async bool `yaml:"async"`
	// Addr is the listen address for the tinyvdbe listen command.
	Addr string `yaml:"listen"`
}

// Engine owns one open database: its pager, and the logger every
// component underneath threads through.
type Engine struct {
	Pager  *pager.Pager
	Log    *log.Logger
	Config *Config

	backend iofile.File
}

// Open bootstraps an Engine against the database file named in config.
func Open(config *Config) (*Engine, error) {
	logger := log.New()

	var backend iofile.File
	var err error
	if config.Async {
		backend, err = iofile.OpenAsyncFile(config.DataPath)
	} else {
		backend, err = iofile.OpenSyncFile(config.DataPath)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: opening %s: %w", config.DataPath, err)
	}

	p, err := pager.Open(backend, config.CacheCapacity, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: initializing pager: %w", err)
	}

	logger.WithFields(log.Fields{
		"path":      config.DataPath,
		"page_size": p.PageSize(),
	}).Info("engine: opened database")

	return &Engine{
		Pager:   p,
		Log:     logger,
		Config:  config,
		backend: backend,
	}, nil
}

// Close releases the underlying file handle.
func (e *Engine) Close() error {
	return e.backend.Close()
}

// Prepare allocates a fresh ProgramState sized for running program.
func (e *Engine) Prepare(program *vm.Program) *vm.ProgramState {
	return vm.NewProgramState(program.MaxRegisters)
}

// Step advances program by one instruction group, stopping at the next
// result row, IO suspension, or halt. Callers that receive StepIO should
// call PumpIO and retry Step; Step itself never blocks.
func (e *Engine) Step(program *vm.Program, state *vm.ProgramState) (vm.StepResult, error) {
	return program.Step(state, e.Pager, e.Log)
}

// PumpIO drives the file backend's reactor once, if it has one (an async
// backend does; a synchronous backend completes inline and has nothing to
// pump). Returns the number of completions it fired.
func (e *Engine) PumpIO() (int, error) {
	r, ok := e.backend.(iofile.Reactor)
	if !ok {
		return 0, nil
	}
	return r.RunOnce()
}

// Reset rewinds state to run program again from the top.
func (e *Engine) Reset(state *vm.ProgramState) {
	state.Reset()
}

// ColumnCount reports the register file width of a prepared state.
func (e *Engine) ColumnCount(state *vm.ProgramState) int {
	return state.ColumnCount()
}

// Run drives program on a fresh state to completion, pumping IO as needed,
// and returns every row it produced. It is the synchronous convenience
// path for callers (like the CLI) that don't need to interleave other work
// between steps.
func (e *Engine) Run(program *vm.Program) ([]vm.Row, error) {
	state := e.Prepare(program)
	var rows []vm.Row
	for {
		result, err := e.Step(program, state)
		if err != nil {
			return rows, err
		}
		switch result.Status {
		case vm.StepRow:
			rows = append(rows, result.Row)
		case vm.StepIO:
			if _, err := e.PumpIO(); err != nil {
				return rows, fmt.Errorf("engine: pumping io: %w", err)
			}
		case vm.StepDone:
			return rows, nil
		}
	}
}
