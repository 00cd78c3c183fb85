// Chrono's interactive runtime shell. It is a host for the versioned-value
// runtime: every command maps onto one runtime operation, and the shell
// supplies the syntax the language core deliberately leaves to hosts.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"chrono/runtime-go/pkg/driver"
)

const version = "chrono-shell 0.1.0-dev"

const usage = `chrono

Usage:
  chrono [--config=FILE] [SCRIPT]
  chrono -h | --help
  chrono -v | --version

Arguments:
  SCRIPT  Path to a chrono command script. Without it, commands are read
          from stdin; a TTY gets line editing and history.

Options:
  --config=FILE  Load runtime configuration from FILE instead of searching
                 for chrono.yml upwards from the working directory.
  -h, --help     Display this help.
  -v, --version  Print the shell version.
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := docopt.ParseArgs(usage, args, version)
	if err != nil {
		return 1
	}
	configPath, _ := opts.String("--config")
	script, _ := opts.String("SCRIPT")

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	sh := NewShell(cfg, os.Stdout)
	defer sh.Close()

	if script != "" {
		file, err := os.Open(script)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open script: %v\n", err)
			return 1
		}
		defer file.Close()
		return runScript(sh, file)
	}

	if isatty.IsTerminal(os.Stdin.Fd()) {
		return runInteractive(sh, cfg)
	}
	return runScript(sh, os.Stdin)
}

func loadConfig(path string) (*driver.Config, error) {
	if path != "" {
		return driver.LoadConfig(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	found, err := driver.FindConfig(cwd)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return driver.DefaultConfig(), nil
		}
		return nil, err
	}
	return driver.LoadConfig(found)
}

// runScript executes commands line by line, stopping at the first error.
func runScript(sh *Shell, src *os.File) int {
	scanner := bufio.NewScanner(src)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := sh.Execute(scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return 0
			}
			fmt.Fprintf(os.Stderr, "line %d: %v\n", lineNo, err)
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
		return 1
	}
	return 0
}

// runInteractive drives the shell from a line editor; errors are printed
// and the session continues.
func runInteractive(sh *Shell, cfg *driver.Config) int {
	cli := liner.NewLiner()
	defer cli.Close()
	cli.SetCtrlCAborts(true)

	if cfg.Shell.HistoryFile != "" {
		if f, err := os.Open(cfg.Shell.HistoryFile); err == nil {
			_, _ = cli.ReadHistory(f)
			f.Close()
		}
	}

	for {
		line, err := cli.Prompt(cfg.Shell.Prompt)
		switch err {
		case nil:
			if line != "" {
				cli.AppendHistory(line)
			}
			if execErr := sh.Execute(line); execErr != nil {
				if errors.Is(execErr, errQuit) {
					saveHistory(cli, cfg)
					return 0
				}
				fmt.Fprintf(os.Stderr, "%v\n", execErr)
			}
		case liner.ErrPromptAborted:
			continue
		default:
			saveHistory(cli, cfg)
			return 0
		}
	}
}

func saveHistory(cli *liner.State, cfg *driver.Config) {
	if cfg.Shell.HistoryFile == "" {
		return
	}
	f, err := os.Create(cfg.Shell.HistoryFile)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = cli.WriteHistory(f)
}
