package command

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/joeandaverde/tinyvdbe/engine"
)

// ListenCommand accepts TCP connections and runs one table scan per line of
// input: "<root-page> <num-columns>". It's a minimal front end over the
// engine, not a query language — parsing and planning are out of scope
// here, same as for the run command.
type ListenCommand struct {
	ShutDownCh <-chan struct{}
}

func (l *ListenCommand) Help() string {
	helpText := `
Usage: tinyvdbe listen [options]

Options:

	-config=""	Database configuration file
`
	return strings.TrimSpace(helpText)
}

func (l *ListenCommand) Synopsis() string {
	return "Accepts client connections to scan tables"
}

func (l *ListenCommand) Run(args []string) int {
	var configPath string

	cmdFlags := flag.NewFlagSet("listen", flag.PanicOnError)
	cmdFlags.StringVar(&configPath, "config", ".", "config file")

	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	configFile, err := os.Open(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening config file: %s", err.Error())
		return 1
	}
	defer configFile.Close()

	config := &engine.Config{}
	if err := yaml.NewDecoder(configFile).Decode(config); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error parsing config file: %s", err.Error())
		return 1
	}

	e, err := engine.Open(config)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening database: %s", err.Error())
		return 1
	}
	defer e.Close()

	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error listening: %s", err.Error())
		return 1
	}
	defer ln.Close()

	e.Log.Infof("listening on %s", config.Addr)

	for {
		conn, err := ln.Accept()

		select {
		case <-l.ShutDownCh:
			return 0
		default:
		}

		if err == nil {
			go handleConnection(e, conn, l.ShutDownCh)
		}
	}
}

func handleConnection(e *engine.Engine, conn net.Conn, shutdownCh <-chan struct{}) {
	defer func() {
		e.Log.Infof("client disconnected remote: %v", conn.RemoteAddr())
		conn.Close()
	}()
	e.Log.Infof("client connected remote: %v", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-shutdownCh:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		writer := bufio.NewWriter(conn)
		rootPage, numColumns, err := parseScanRequest(line)
		if err != nil {
			e.Log.Error(err)
			_, _ = writer.WriteString(err.Error() + "\n")
			writer.Flush()
			continue
		}

		program := buildTableScan(rootPage, numColumns)
		rows, err := e.Run(program)
		if err != nil {
			e.Log.Error(err)
			_, _ = writer.WriteString(err.Error() + "\n")
			writer.Flush()
			continue
		}

		for _, r := range rows {
			_, _ = writer.WriteString(formatRow(r) + "\n")
		}
		writer.Flush()
	}

	if err := scanner.Err(); err != nil {
		e.Log.Errorf("connection error: %s", err.Error())
	}
}

func parseScanRequest(line string) (int, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected \"<root-page> <num-columns>\", got %q", line)
	}
	rootPage, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid root page: %w", err)
	}
	numColumns, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid column count: %w", err)
	}
	return rootPage, numColumns, nil
}
