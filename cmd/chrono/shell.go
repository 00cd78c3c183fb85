package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chrono/runtime-go/pkg/archive"
	"chrono/runtime-go/pkg/driver"
	"chrono/runtime-go/pkg/runtime"
	"chrono/runtime-go/pkg/versioned"
)

// errQuit signals a clean shell exit.
var errQuit = errors.New("quit")

// Shell maps line commands onto the versioned-value runtime. It is the
// host surface: names bind to handles in an environment, and every command
// body is one runtime operation.
type Shell struct {
	cfg      *driver.Config
	rt       *versioned.Runtime
	owner    *versioned.Owner
	env      *runtime.Environment
	tx       *versioned.Tx
	tokens   []*versioned.Token
	archiver *archive.Archiver
	out      io.Writer
}

// NewShell creates a shell over a fresh runtime.
func NewShell(cfg *driver.Config, out io.Writer) *Shell {
	return &Shell{
		cfg:   cfg,
		rt:    versioned.New(versioned.Config{HistoryRetention: cfg.History.Retention}),
		owner: versioned.NewOwner(),
		env:   runtime.NewEnvironment(nil),
		out:   out,
	}
}

// Execute runs one command line. Blank lines and #-comments are ignored.
func (s *Shell) Execute(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil
	}
	cmd, rest := splitWord(trimmed)
	switch cmd {
	case "let":
		return s.cmdLet(rest)
	case "append":
		return s.cmdMutate(rest, func(elem runtime.Value) versioned.Operation {
			return versioned.Append{Element: elem}
		})
	case "set":
		return s.cmdMutate(rest, func(elem runtime.Value) versioned.Operation {
			return versioned.Replace{Value: elem}
		})
	case "put":
		return s.cmdPut(rest)
	case "show":
		return s.cmdShow(rest)
	case "head":
		return s.cmdHead(rest)
	case "history":
		return s.cmdHistory(rest)
	case "commit":
		return s.cmdCommit(rest)
	case "revert":
		return s.cmdRevert(rest)
	case "begin":
		return s.cmdBegin(rest)
	case "abort":
		return s.cmdAbort(rest)
	case "lock":
		return s.cmdLock(rest)
	case "unlock":
		return s.cmdUnlock(rest)
	case "free":
		return s.cmdFree(rest)
	case "archive":
		return s.cmdArchive(rest)
	case "vars":
		return s.cmdVars(rest)
	case "help":
		s.printHelp()
		return nil
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

func (s *Shell) handleFor(name string) (versioned.Handle, error) {
	if name == "" {
		return versioned.Handle{}, fmt.Errorf("missing variable name")
	}
	val, err := s.env.Get(name)
	if err != nil {
		return versioned.Handle{}, err
	}
	hv, ok := val.(versioned.HandleValue)
	if !ok {
		return versioned.Handle{}, fmt.Errorf("'%s' is not a versioned variable", name)
	}
	return hv.Handle, nil
}

func (s *Shell) handlesFor(names []string) ([]versioned.Handle, error) {
	handles := make([]versioned.Handle, 0, len(names))
	for _, name := range names {
		h, err := s.handleFor(name)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *Shell) cmdLet(rest string) error {
	name, literal := splitWord(rest)
	if name == "" || literal == "" {
		return fmt.Errorf("usage: let NAME VALUE")
	}
	initial, err := parseLiteral(literal)
	if err != nil {
		return err
	}
	h := s.rt.Create(initial)
	s.env.Define(name, versioned.HandleValue{Handle: h})
	fmt.Fprintf(s.out, "%s = %s\n", name, runtime.Format(initial))
	return nil
}

func (s *Shell) cmdMutate(rest string, build func(runtime.Value) versioned.Operation) error {
	name, literal := splitWord(rest)
	if name == "" || literal == "" {
		return fmt.Errorf("usage: append|set NAME VALUE")
	}
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	elem, err := parseLiteral(literal)
	if err != nil {
		return err
	}
	return s.rt.Mutate(context.Background(), s.owner, h, build(elem))
}

func (s *Shell) cmdPut(rest string) error {
	name, rest := splitWord(rest)
	key, literal := splitWord(rest)
	if name == "" || key == "" || literal == "" {
		return fmt.Errorf("usage: put NAME KEY VALUE")
	}
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	elem, err := parseLiteral(literal)
	if err != nil {
		return err
	}
	return s.rt.Mutate(context.Background(), s.owner, h, versioned.SetKey{Key: key, Element: elem})
}

func (s *Shell) cmdShow(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	staged, err := s.rt.Staged(context.Background(), s.owner, h)
	if err != nil {
		return err
	}
	dirty, err := s.rt.Dirty(context.Background(), s.owner, h)
	if err != nil {
		return err
	}
	marker := ""
	if dirty {
		marker = " (staged)"
	}
	fmt.Fprintf(s.out, "%s%s\n", runtime.Format(staged), marker)
	return nil
}

func (s *Shell) cmdHead(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	snap, err := s.rt.Head(h)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "#%d %s\n", snap.Seq, runtime.Format(snap.Value))
	return nil
}

func (s *Shell) cmdHistory(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	hist, err := s.rt.History(h)
	if err != nil {
		return err
	}
	for hist.Next() {
		snap := hist.Snapshot()
		fmt.Fprintf(s.out, "#%d %s\n", snap.Seq, runtime.Format(snap.Value))
	}
	return nil
}

// cmdCommit commits either the open transaction (bare 'commit') or a list
// of named variables, each individually.
func (s *Shell) cmdCommit(rest string) error {
	if rest == "" {
		if s.tx == nil {
			return fmt.Errorf("no open sync block; usage: commit NAME...")
		}
		if err := s.tx.Commit(); err != nil {
			s.tx = nil
			return err
		}
		s.tx = nil
		fmt.Fprintln(s.out, "sync committed")
		return nil
	}
	// Individual commits inside a sync block would let one participant
	// escape the all-or-nothing publish.
	if s.tx != nil {
		return fmt.Errorf("a sync block is open; bare 'commit' publishes it atomically")
	}
	for _, name := range strings.Fields(rest) {
		h, err := s.handleFor(name)
		if err != nil {
			return err
		}
		seq, err := s.rt.Commit(context.Background(), s.owner, h)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s committed #%d\n", name, seq)
	}
	return nil
}

func (s *Shell) cmdRevert(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	restored, err := s.rt.Revert(context.Background(), s.owner, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s reverted to %s\n", name, runtime.Format(restored))
	return nil
}

func (s *Shell) cmdBegin(rest string) error {
	if s.tx != nil {
		return fmt.Errorf("a sync block is already open (commit or abort it first)")
	}
	names := strings.Fields(rest)
	if len(names) == 0 {
		return fmt.Errorf("usage: begin NAME...")
	}
	handles, err := s.handlesFor(names)
	if err != nil {
		return err
	}
	tx, err := s.rt.Begin(context.Background(), s.owner, handles...)
	if err != nil {
		return err
	}
	s.tx = tx
	fmt.Fprintf(s.out, "sync open: %s\n", strings.Join(names, " "))
	return nil
}

func (s *Shell) cmdAbort(string) error {
	if s.tx == nil {
		return fmt.Errorf("no open sync block")
	}
	err := s.tx.Abort()
	s.tx = nil
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "sync aborted")
	return nil
}

func (s *Shell) cmdLock(rest string) error {
	names := strings.Fields(rest)
	if len(names) == 0 {
		return fmt.Errorf("usage: lock NAME...")
	}
	handles, err := s.handlesFor(names)
	if err != nil {
		return err
	}
	tokens, err := s.rt.AcquireMany(context.Background(), s.owner, handles...)
	if err != nil {
		return err
	}
	s.tokens = append(s.tokens, tokens...)
	fmt.Fprintf(s.out, "locked %s\n", strings.Join(names, " "))
	return nil
}

func (s *Shell) cmdUnlock(string) error {
	if len(s.tokens) == 0 {
		return fmt.Errorf("no locks held")
	}
	for i := len(s.tokens) - 1; i >= 0; i-- {
		if err := s.tokens[i].Release(); err != nil && !errors.Is(err, versioned.ErrInvalidToken) {
			return err
		}
	}
	s.tokens = nil
	fmt.Fprintln(s.out, "unlocked")
	return nil
}

func (s *Shell) cmdFree(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	if err := s.rt.Free(s.owner, h); err != nil {
		return err
	}
	s.env.Unbind(name)
	fmt.Fprintf(s.out, "freed %s\n", name)
	return nil
}

func (s *Shell) cmdArchive(rest string) error {
	name, _ := splitWord(rest)
	h, err := s.handleFor(name)
	if err != nil {
		return err
	}
	if s.archiver == nil {
		var a *archive.Archiver
		if s.cfg.Archive.Path != "" {
			a, err = archive.Open(s.cfg.Archive.Path, s.cfg.Archive.Author, s.cfg.Archive.Email)
		} else {
			a, err = archive.NewInMemory(s.cfg.Archive.Author, s.cfg.Archive.Email)
		}
		if err != nil {
			return err
		}
		s.archiver = a
	}
	hist, err := s.rt.History(h)
	if err != nil {
		return err
	}
	count, err := s.archiver.Archive(name, hist)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "archived %d snapshots of %s\n", count, name)
	return nil
}

func (s *Shell) cmdVars(string) error {
	for _, name := range s.env.Names() {
		val, err := s.env.Get(name)
		if err != nil {
			continue
		}
		hv, ok := val.(versioned.HandleValue)
		if !ok {
			continue
		}
		snap, err := s.rt.Head(hv.Handle)
		if err != nil {
			continue
		}
		fmt.Fprintf(s.out, "%s #%d %s\n", name, snap.Seq, runtime.Format(snap.Value))
	}
	return nil
}

// Close aborts any open transaction and drops held locks.
func (s *Shell) Close() {
	if s.tx != nil {
		_ = s.tx.Abort()
		s.tx = nil
	}
	for i := len(s.tokens) - 1; i >= 0; i-- {
		_ = s.tokens[i].Release()
	}
	s.tokens = nil
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  let NAME VALUE       declare a versioned variable
  append NAME VALUE    stage an array append
  set NAME VALUE       stage a whole-value replacement
  put NAME KEY VALUE   stage a map entry
  show NAME            print the staged working value
  head NAME            print the committed head snapshot
  history NAME         print all retained snapshots
  commit NAME...       commit named variables (bare 'commit' ends a sync block)
  revert NAME          discard staged mutations
  begin NAME...        open a sync block over the named variables
  abort                abort the open sync block
  lock NAME...         acquire locks in canonical order
  unlock               release held locks
  free NAME            dispose a variable
  archive NAME         commit the variable's history to the archive repo
  vars                 list variables with their head snapshots
  exit                 leave the shell
`)
}
