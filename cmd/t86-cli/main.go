// Command t86-cli assembles and runs T86 programs.
package main

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/t86/t86vm/internal/stats"
	"github.com/t86/t86vm/internal/t86"
)

var (
	flagStats    bool
	flagRAMWords int
	flagVerbose  bool
)

// fileError marks a failure to open or read the input file, mapped to
// exit code 3.
type fileError struct{ err error }

func (e fileError) Error() string { return e.err.Error() }
func (e fileError) Unwrap() error { return e.err }

func main() {
	root := &cobra.Command{
		Use:   "t86-cli",
		Short: "Assemble and run T86 programs",
	}

	runCmd := &cobra.Command{
		Use:           "run <file>",
		Short:         "Assemble and execute a T86 program",
		Args:          cobra.ExactArgs(1),
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd.Flags().BoolVar(&flagStats, "stats", false, "log per-tick execution counts")
	runCmd.Flags().IntVar(&flagRAMWords, "ram-words", t86.DefaultRAMWords, "RAM size in 64-bit words")
	runCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "print full error traces")

	debugCmd := &cobra.Command{
		Use:           "debug <file>",
		Short:         "Step through a T86 program interactively",
		Args:          cobra.ExactArgs(1),
		RunE:          runDebug,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	debugCmd.Flags().IntVar(&flagRAMWords, "ram-words", t86.DefaultRAMWords, "RAM size in 64-bit words")

	root.AddCommand(runCmd, debugCmd)

	if err := root.Execute(); err != nil {
		if flagVerbose {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ferr fileError
	if stderrors.As(err, &ferr) {
		return 3
	}
	var perr *t86.ParseError
	if stderrors.As(err, &perr) {
		return 2
	}
	var rfault *t86.RuntimeFault
	if stderrors.As(err, &rfault) {
		return 10 + int(rfault.Kind)
	}
	return 1
}

func loadProgram(path string) (*t86.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError{errors.Wrapf(err, "opening %s", path)}
	}
	prog, err := t86.ParseSource(string(data))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return prog, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	prog, err := loadProgram(args[0])
	if err != nil {
		return err
	}

	cpu := t86.NewCPU(prog, flagRAMWords, bufio.NewReader(os.Stdin), os.Stdout)
	if flagStats {
		logger := stats.New(logrus.StandardLogger())
		logger.Start()
		cpu.Observer = logger
	}
	cpu.Start()

	if _, err := cpu.Run(0); err != nil {
		var fault *t86.RuntimeFault
		if stderrors.As(err, &fault) {
			cpu.DumpState(os.Stderr)
		}
		return err
	}
	return nil
}

// runDebug is a single-step/breakpoint REPL driving CPU.Tick one
// instruction at a time.
func runDebug(cmd *cobra.Command, args []string) error {
	prog, err := loadProgram(args[0])
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	cpu := t86.NewCPU(prog, flagRAMWords, stdin, os.Stdout)
	cpu.Start()

	fmt.Println("Commands:")
	fmt.Println("\tn or next: execute next instruction")
	fmt.Println("\tr or run: run until breakpoint or halt")
	fmt.Println("\tb or break <addr>: toggle breakpoint at instruction address")
	fmt.Println("\tq or quit: exit")

	breakpoints := make(map[int64]bool)
	printState := func() {
		if !cpu.Halted {
			fmt.Printf("next: %s\n", prog.Instrs[cpu.Regs.IP])
		}
		cpu.DumpState(os.Stdout)
	}
	printState()

	for !cpu.Halted {
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return nil
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "n", "next":
			if err := cpu.Tick(); err != nil {
				cpu.DumpState(os.Stderr)
				return err
			}
			printState()

		case "r", "run":
			for !cpu.Halted {
				if err := cpu.Tick(); err != nil {
					cpu.DumpState(os.Stderr)
					return err
				}
				if breakpoints[cpu.Regs.IP] {
					break
				}
			}
			printState()

		case "b", "break":
			if len(fields) != 2 {
				fmt.Println("usage: break <addr>")
				continue
			}
			addr, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Println("invalid address")
				continue
			}
			breakpoints[addr] = !breakpoints[addr]

		case "q", "quit":
			return nil

		default:
			fmt.Println("unknown command")
		}
	}
	fmt.Println("program halted")
	return nil
}
