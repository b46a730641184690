package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agc-sim/agcsim/api"
	"github.com/agc-sim/agcsim/config"
	"github.com/agc-sim/agcsim/debugger"
	"github.com/agc-sim/agcsim/loader"
	"github.com/agc-sim/agcsim/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	var (
		showVersion  = flag.Bool("version", false, "Show version information")
		showHelp     = flag.Bool("help", false, "Show help information")
		debugMode    = flag.Bool("debug", false, "Start in debugger mode")
		tuiMode      = flag.Bool("tui", false, "Use TUI (Text User Interface) debugger")
		apiServer    = flag.Bool("api-server", false, "Start HTTP API server mode")
		apiPort      = flag.Int("port", 8080, "API server port (used with -api-server)")
		maxCycles    = flag.Uint64("max-cycles", vm.DefaultMaxCycles, "Maximum MCT count before halt")
		coreDump     = flag.String("core-dump", "", "Load a whitespace-separated octal core dump instead of a rope image")
		erasableOnly = flag.Bool("erasable-only", false, "Restrict -core-dump load to erasable memory")
		checkParity  = flag.Bool("check-parity", true, "Enable rope parity checking if the image carries parity bits")
		pacingRate   = flag.Float64("pacing", 0, "Throttle execution to this fraction of real-time AGCPerSecond (0 = unthrottled)")
		verboseMode  = flag.Bool("verbose", false, "Verbose output")

		enableTrace    = flag.Bool("trace", false, "Enable execution trace")
		traceFile      = flag.String("trace-file", "", "Trace output file (default: trace.log in log dir)")
		traceFilter    = flag.String("trace-filter", "", "Filter trace by registers (comma-separated, e.g., A,L,Z)")
		enableMemTrace = flag.Bool("mem-trace", false, "Enable erasable memory access trace")
		memTraceFile   = flag.String("mem-trace-file", "", "Memory trace output file (default: memtrace.log)")
		enableStats    = flag.Bool("stats", false, "Enable performance statistics")
		statsFile      = flag.String("stats-file", "", "Statistics output file (default: stats.json)")
		statsFormat    = flag.String("stats-format", "json", "Statistics format (json, csv, html)")

		enableCoverage      = flag.Bool("coverage", false, "Enable code coverage tracking")
		coverageFile        = flag.String("coverage-file", "", "Coverage output file (default: coverage.txt)")
		coverageFormat      = flag.String("coverage-format", "text", "Coverage format (text, json)")
		enableAlarmTrace    = flag.Bool("alarm-trace", false, "Enable channel-77 alarm/standby transition tracing")
		alarmTraceFile      = flag.String("alarm-trace-file", "", "Alarm trace output file (default: alarm_trace.txt)")
		alarmTraceFormat    = flag.String("alarm-trace-format", "text", "Alarm trace format (text, json)")
		enableRegisterTrace = flag.Bool("register-trace", false, "Enable register access pattern tracing")
		registerTraceFile   = flag.String("register-trace-file", "", "Register trace output file (default: register_trace.txt)")
		registerTraceFormat = flag.String("register-trace-format", "text", "Register trace format (text, json)")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("agcsim %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if *apiServer {
		runAPIServer(*apiPort)
		return
	}

	if flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	romFile := flag.Arg(0)
	if _, err := os.Stat(romFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found: %s\n", romFile)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if !flagWasSet("check-parity") {
		*checkParity = cfg.Rope.CheckParity
	}
	if !flagWasSet("pacing") {
		*pacingRate = cfg.Execution.PacingRate
	}

	machine := vm.NewVM()
	machine.CycleLimit = *maxCycles

	if *verboseMode {
		fmt.Printf("Loading image: %s\n", romFile)
	}

	if *coreDump != "" {
		if err := loader.LoadCoreDump(machine, *coreDump, loader.CoreDumpOptions{ErasableOnly: *erasableOnly}); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading core dump: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := loader.LoadROM(machine, romFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading rope image: %v\n", err)
			os.Exit(1)
		}
		machine.Alarms.SetParityCheck(*checkParity && machine.Alarms.ParityCheckEnabled())
	}

	symbols := make(map[string]uint32)
	sourceMap := make(map[uint32]string)

	if *verboseMode {
		fmt.Printf("Entry point: Z=%05o (post-GOJAM)\n", machine.CPU.Z)
		fmt.Printf("Max cycles: %d\n", *maxCycles)
	}

	if *enableTrace {
		tracePath := *traceFile
		if tracePath == "" {
			tracePath = filepath.Join(config.GetLogPath(), "trace.log")
		}
		traceWriter, err := os.Create(tracePath) // #nosec G304 -- operator-specified trace output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer closeOrWarn(traceWriter, "trace file")

		machine.ExecutionTrace = vm.NewExecutionTrace(traceWriter)
		machine.ExecutionTrace.LoadSymbols(symbols)
		machine.ExecutionTrace.Start()
		if *traceFilter != "" {
			machine.ExecutionTrace.SetFilterRegisters(strings.Split(*traceFilter, ","))
		}
		if *verboseMode {
			fmt.Printf("Execution trace enabled: %s\n", tracePath)
		}
	}

	if *enableMemTrace {
		memTracePath := *memTraceFile
		if memTracePath == "" {
			memTracePath = filepath.Join(config.GetLogPath(), "memtrace.log")
		}
		memTraceWriter, err := os.Create(memTracePath) // #nosec G304 -- operator-specified memory trace output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory trace file: %v\n", err)
			os.Exit(1)
		}
		defer closeOrWarn(memTraceWriter, "memory trace file")

		machine.MemoryTrace = vm.NewMemoryTrace(memTraceWriter)
		machine.MemoryTrace.Start()
		if *verboseMode {
			fmt.Printf("Memory trace enabled: %s\n", memTracePath)
		}
	}

	if *enableStats {
		machine.Statistics = vm.NewPerformanceStatistics()
		machine.Statistics.Start()
		if *verboseMode {
			fmt.Println("Performance statistics enabled")
		}
	}

	if *enableCoverage {
		covPath := *coverageFile
		if covPath == "" {
			ext := "txt"
			if *coverageFormat == "json" {
				ext = "json"
			}
			covPath = filepath.Join(config.GetLogPath(), "coverage."+ext)
		}
		covWriter, err := os.Create(covPath) // #nosec G304 -- operator-specified coverage output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating coverage file: %v\n", err)
			os.Exit(1)
		}
		defer closeOrWarn(covWriter, "coverage file")

		machine.CodeCoverage = vm.NewCodeCoverage(covWriter)
		machine.CodeCoverage.SetCodeRange(0, vm.FixedBankSize)
		machine.CodeCoverage.LoadSymbols(symbols)
		machine.CodeCoverage.Start()
		if *verboseMode {
			fmt.Printf("Code coverage enabled: %s\n", covPath)
		}
	}

	if *enableAlarmTrace {
		atPath := *alarmTraceFile
		if atPath == "" {
			ext := "txt"
			if *alarmTraceFormat == "json" {
				ext = "json"
			}
			atPath = filepath.Join(config.GetLogPath(), "alarm_trace."+ext)
		}
		atWriter, err := os.Create(atPath) // #nosec G304 -- operator-specified alarm trace output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating alarm trace file: %v\n", err)
			os.Exit(1)
		}
		defer closeOrWarn(atWriter, "alarm trace file")

		machine.AlarmTrace = vm.NewFlagTrace(atWriter)
		machine.AlarmTrace.LoadSymbols(symbols)
		machine.AlarmTrace.Start(vm.AlarmSnapshot{})
		if *verboseMode {
			fmt.Printf("Alarm trace enabled: %s\n", atPath)
		}
	}

	if *enableRegisterTrace {
		rtPath := *registerTraceFile
		if rtPath == "" {
			ext := "txt"
			if *registerTraceFormat == "json" {
				ext = "json"
			}
			rtPath = filepath.Join(config.GetLogPath(), "register_trace."+ext)
		}
		rtWriter, err := os.Create(rtPath) // #nosec G304 -- operator-specified register trace output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating register trace file: %v\n", err)
			os.Exit(1)
		}
		defer closeOrWarn(rtWriter, "register trace file")

		machine.RegisterTrace = vm.NewRegisterTrace(rtWriter)
		machine.RegisterTrace.LoadSymbols(symbols)
		machine.RegisterTrace.Start()
		if *verboseMode {
			fmt.Printf("Register trace enabled: %s\n", rtPath)
		}
	}

	if *debugMode || *tuiMode {
		dbg := debugger.NewDebugger(machine)
		dbg.LoadSymbols(symbols)
		dbg.LoadSourceMap(sourceMap)

		if *tuiMode {
			if err := debugger.RunTUI(dbg); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
				os.Exit(1)
			}
		} else {
			fmt.Println("AGC Debugger - Type 'help' for commands")
			fmt.Printf("Image loaded: %s\n", romFile)
			fmt.Println()

			if err := debugger.RunCLI(dbg); err != nil {
				fmt.Fprintf(os.Stderr, "Debugger error: %v\n", err)
				os.Exit(1)
			}
		}
	} else {
		runDirect(machine, *pacingRate, *verboseMode)
	}

	flushDiagnostics(machine, *verboseMode, *statsFile, *statsFormat, *coverageFormat, *alarmTraceFormat, *registerTraceFormat)

	if machine.State == vm.StateError {
		os.Exit(1)
	}
}

// runDirect runs the machine to halt (or cycle limit), optionally pacing
// execution to a fraction of the real machine's MCT rate.
func runDirect(machine *vm.VM, pacingRate float64, verbose bool) {
	if verbose {
		fmt.Println("\nStarting execution...")
		fmt.Println("----------------------------------------")
	}

	var mctPeriod time.Duration
	var batchStart time.Time
	const pacingBatch = 1000 // MCTs between pacing checks, to keep syscall overhead low
	if pacingRate > 0 {
		mctPeriod = time.Duration(float64(time.Second) / (vm.AGCPerSecond * pacingRate))
		batchStart = time.Now()
	}

	machine.State = vm.StateRunning
	batchCycles := uint64(0)
	startCycles := machine.CPU.Cycles

	for machine.State == vm.StateRunning || machine.State == vm.StateStandby {
		before := machine.CPU.Cycles
		if err := machine.Step(); err != nil {
			if machine.State == vm.StateHalted {
				break
			}
			fmt.Fprintf(os.Stderr, "\nRuntime error at Z=%05o: %v\n", machine.CPU.Z, err)
			return
		}
		batchCycles += machine.CPU.Cycles - before

		if pacingRate > 0 && batchCycles >= pacingBatch {
			target := batchStart.Add(mctPeriod * time.Duration(batchCycles))
			if wait := time.Until(target); wait > 0 {
				time.Sleep(wait)
			}
			batchCycles = 0
			batchStart = time.Now()
		}
	}

	if verbose {
		fmt.Println("\n----------------------------------------")
		fmt.Println("Execution complete")
		fmt.Println(machine.DumpState())
		fmt.Printf("MCTs executed: %d\n", machine.CPU.Cycles-startCycles)
		fmt.Printf("Instructions executed: %d\n", len(machine.InstructionLog))
	}
}

func flushDiagnostics(machine *vm.VM, verbose bool, statsFile, statsFormat, coverageFormat, alarmTraceFormat, registerTraceFormat string) {
	if machine.ExecutionTrace != nil {
		if err := machine.ExecutionTrace.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing execution trace: %v\n", err)
		} else if verbose {
			fmt.Printf("Execution trace written (%d entries)\n", len(machine.ExecutionTrace.GetEntries()))
		}
	}

	if machine.MemoryTrace != nil {
		if err := machine.MemoryTrace.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing memory trace: %v\n", err)
		} else if verbose {
			fmt.Printf("Memory trace written (%d entries)\n", len(machine.MemoryTrace.GetEntries()))
		}
	}

	if machine.Statistics != nil {
		path := statsFile
		if path == "" {
			ext := "json"
			switch statsFormat {
			case "csv":
				ext = "csv"
			case "html":
				ext = "html"
			}
			path = filepath.Join(config.GetLogPath(), "stats."+ext)
		}

		writer, err := os.Create(path) // #nosec G304 -- operator-specified statistics output path
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating statistics file: %v\n", err)
		} else {
			defer closeOrWarn(writer, "statistics file")

			switch statsFormat {
			case "csv":
				err = machine.Statistics.ExportCSV(writer)
			case "html":
				err = machine.Statistics.ExportHTML(writer)
			default:
				err = machine.Statistics.ExportJSON(writer)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error exporting statistics: %v\n", err)
			} else if verbose {
				fmt.Printf("Statistics exported: %s\n", path)
			}
		}

		if verbose {
			fmt.Println()
			fmt.Println(machine.Statistics.String())
		}
	}

	if machine.CodeCoverage != nil {
		var err error
		if coverageFormat == "json" {
			err = machine.CodeCoverage.ExportJSON(machine.CodeCoverage.Writer)
		} else {
			err = machine.CodeCoverage.Flush()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting coverage: %v\n", err)
		}
		if verbose {
			fmt.Println()
			fmt.Println(machine.CodeCoverage.String())
		}
	}

	if machine.AlarmTrace != nil {
		var err error
		if alarmTraceFormat == "json" {
			err = machine.AlarmTrace.ExportJSON(machine.AlarmTrace.Writer)
		} else {
			err = machine.AlarmTrace.Flush()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting alarm trace: %v\n", err)
		}
		if verbose {
			fmt.Println()
			fmt.Println(machine.AlarmTrace.String())
		}
	}

	if machine.RegisterTrace != nil {
		var err error
		if registerTraceFormat == "json" {
			err = machine.RegisterTrace.ExportJSON(machine.RegisterTrace.Writer)
		} else {
			err = machine.RegisterTrace.Flush()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting register trace: %v\n", err)
		}
		if verbose {
			fmt.Println()
			fmt.Println(machine.RegisterTrace.String())
		}
	}
}

// runAPIServer starts the HTTP/WebSocket introspection server and blocks
// until it receives a shutdown signal.
func runAPIServer(port int) {
	server := api.NewServer(port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			fmt.Println("\nShutting down API server...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("API server stopped")
			os.Exit(0)
		})
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "API server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
}

func closeOrWarn(f *os.File, label string) {
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", label, err)
	}
}

// flagWasSet reports whether a flag was explicitly passed on the command
// line, so config-file defaults only apply when the operator didn't override
// them at the CLI.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printHelp() {
	fmt.Printf(`agcsim %s

Usage: agcsim [options] <rope-image>
       agcsim -api-server [-port N]

Options:
  -help                Show this help message
  -version             Show version information
  -api-server          Start HTTP API server mode (no image required)
  -port N              API server port (default: 8080, used with -api-server)
  -debug               Start in debugger mode (CLI)
  -tui                 Start in TUI debugger mode
  -max-cycles N        Set maximum MCT count before halt (default: %d)
  -core-dump FILE      Load a core-dump image instead of a rope binary
  -erasable-only       Restrict -core-dump load to erasable memory
  -check-parity        Enable rope parity checking (default: true)
  -pacing RATE         Throttle to RATE x real-time AGCPerSecond (0 = unthrottled)
  -verbose             Enable verbose output

Tracing & Performance Options:
  -trace               Enable execution trace
  -trace-file FILE     Trace output file (default: trace.log in log dir)
  -trace-filter REGS   Filter trace by registers (e.g., A,L,Z)
  -mem-trace           Enable erasable memory access trace
  -mem-trace-file F    Memory trace file (default: memtrace.log)
  -stats               Enable performance statistics
  -stats-file FILE     Statistics output file (default: stats.json)
  -stats-format FMT    Statistics format: json, csv, html (default: json)

Diagnostic Modes:
  -coverage            Enable code coverage tracking
  -coverage-file F     Coverage output file (default: coverage.txt)
  -coverage-format     Coverage format: text, json (default: text)
  -alarm-trace         Enable channel-77 alarm/standby transition tracing
  -alarm-trace-file    Alarm trace file (default: alarm_trace.txt)
  -alarm-trace-format  Alarm trace format: text, json (default: text)
  -register-trace      Enable register access pattern tracing
  -register-trace-file Register trace file (default: register_trace.txt)
  -register-trace-format Register trace format: text, json (default: text)

Examples:
  # Start API server for remote front ends
  agcsim -api-server
  agcsim -api-server -port 3000

  # Run a rope image directly
  agcsim luminary131.bin

  # Run with debugger
  agcsim -debug luminary131.bin

  # Run with TUI debugger
  agcsim -tui colossus249.bin

  # Run a core dump restored from a prior session
  agcsim -core-dump session.dump -erasable-only

  # Run paced to real machine speed
  agcsim -pacing 1.0 luminary131.bin

  # Run with execution trace
  agcsim -trace -trace-filter "A,L,Z" luminary131.bin

  # Run with performance statistics
  agcsim -stats -stats-format html luminary131.bin

  # Run with all monitoring enabled
  agcsim -trace -mem-trace -stats -verbose luminary131.bin

Debugger Commands (when in -debug mode):
  run, r             Start/restart program execution
  continue, c        Continue execution
  step, s            Execute single instruction
  next, n            Step over subroutine calls
  break ADDR         Set breakpoint at octal address/label
  info registers     Show all registers
  print EXPR         Evaluate and print expression
  help               Show debugger help

For more information, see the DESIGN.md file.
`, Version, vm.DefaultMaxCycles)
}
