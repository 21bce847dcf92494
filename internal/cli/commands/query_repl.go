package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/queryworks/querypad/internal/bulk"
	"github.com/queryworks/querypad/internal/session"
)

// repl holds the interactive loop's state around one session registry.
type repl struct {
	cmd    *cobra.Command
	reg    *session.Registry
	format string
	out    io.Writer
	errOut io.Writer
}

func runQueryREPL(cmd *cobra.Command, cc *CommandContext, opts *QueryOptions) error {
	reg, closer, err := newRegistry(cmd, cc)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	home, _ := os.UserHomeDir()
	historyFile := filepath.Join(home, ".querypad_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "querypad> ",
		HistoryFile:     historyFile,
		AutoComplete:    replCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r := &repl{
		cmd:    cmd,
		reg:    reg,
		format: opts.Format,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}

	_, _ = fmt.Fprintf(r.out, "QueryPad REPL (source: %s)\n", cc.Cfg.Source.Type)
	_, _ = fmt.Fprintln(r.out, "Type a query to open a session, .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(r.out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if line == ".quit" || line == ".exit" {
				break
			}
			r.handleDotCommand(line)
			continue
		}

		// Anything else is a query: open or refresh a session.
		id, err := r.reg.Execute(r.cmd.Context(), line)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
			continue
		}
		r.showSession(id)
	}

	return nil
}

func (r *repl) handleDotCommand(line string) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch command {
	case ".help":
		r.printHelp()
	case ".tabs":
		r.listTabs()
	case ".tab":
		err = r.switchTab(args)
	case ".close":
		err = r.closeTab(args)
	case ".more":
		err = r.loadMore()
	case ".set":
		err = r.setField(args)
	case ".unset":
		err = r.unsetField(args)
	case ".commit":
		err = r.commit()
	case ".export":
		err = r.export(args)
	case ".describe":
		err = r.describe()
	case ".clear":
		fmt.Print("\033[H\033[2J")
	default:
		err = fmt.Errorf("unknown command: %s (type .help for commands)", command)
	}

	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

func (r *repl) showSession(id session.ID) {
	s, ok := r.reg.Get(id)
	if !ok {
		return
	}
	if s.Err != nil {
		_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", s.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "[tab %d: %s]\n", s.ID, s.Label())
	if err := renderSession(r.out, s, r.format); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
	_, _ = fmt.Fprintln(r.out)
}

func (r *repl) listTabs() {
	sessions := r.reg.Sessions()
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(r.out, "no open tabs")
		return
	}
	active, _ := r.reg.Active()
	for _, s := range sessions {
		marker := " "
		if active != nil && s.ID == active.ID {
			marker = "*"
		}
		state := fmt.Sprintf("%d rows", len(s.Records))
		switch {
		case s.Loading:
			state = "loading"
		case s.Err != nil:
			state = "error"
		case s.HasPendingEdits():
			state += fmt.Sprintf(", %d edited", s.Edits.Len())
		}
		_, _ = fmt.Fprintf(r.out, "%s %2d  %-30s (%s)\n", marker, s.ID, s.Label(), state)
	}
}

func (r *repl) activeSession() (*session.Session, error) {
	s, ok := r.reg.Active()
	if !ok {
		return nil, errors.New("no active tab (run a query first)")
	}
	return s, nil
}

func parseTabID(args []string) (session.ID, error) {
	if len(args) < 1 {
		return 0, errors.New("usage: .tab <n>")
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tab id %q", args[0])
	}
	return session.ID(n), nil
}

func (r *repl) switchTab(args []string) error {
	id, err := parseTabID(args)
	if err != nil {
		return err
	}
	if err := r.reg.SwitchActive(id); err != nil {
		return err
	}
	r.showSession(id)
	return nil
}

func (r *repl) closeTab(args []string) error {
	var id session.ID
	if len(args) == 0 {
		s, err := r.activeSession()
		if err != nil {
			return err
		}
		id = s.ID
	} else {
		var err error
		if id, err = parseTabID(args); err != nil {
			return err
		}
	}
	return r.reg.Close(id)
}

func (r *repl) loadMore() error {
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	if err := r.reg.LoadMore(r.cmd.Context(), s.ID); err != nil {
		return err
	}
	r.showSession(s.ID)
	return nil
}

func (r *repl) setField(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: .set <recordID> <field> <value>")
	}
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	value := strings.Join(args[2:], " ")
	if err := r.reg.SetField(s.ID, args[0], args[1], value); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(r.out, "%d record(s) with pending edits\n", s.Edits.Len())
	return nil
}

func (r *repl) unsetField(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: .unset <recordID> <field>")
	}
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	return r.reg.UnsetField(s.ID, args[0], args[1])
}

func (r *repl) commit() error {
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	if !s.HasPendingEdits() {
		_, _ = fmt.Fprintln(r.out, "nothing to commit")
		return nil
	}

	failures, err := r.reg.CommitEdits(r.cmd.Context(), s.ID)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		_, _ = fmt.Fprintln(r.out, "all changes committed")
		return nil
	}
	for recordID, msg := range failures {
		_, _ = fmt.Fprintf(r.errOut, "record %s: %s\n", recordID, msg)
	}
	return fmt.Errorf("%d record(s) failed to commit (edits retained)", len(failures))
}

func (r *repl) export(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: .export <file>")
	}
	s, err := r.activeSession()
	if err != nil {
		return err
	}

	h, err := r.reg.Export(r.cmd.Context(), s.ID, func(ev bulk.Event) {
		reportProgress(r.errOut, ev)
	})
	if err != nil {
		return err
	}

	csv, err := h.Wait()
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], []byte(csv), 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	_, _ = fmt.Fprintf(r.out, "exported to %s\n", args[0])
	return nil
}

func (r *repl) describe() error {
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	if s.FieldMetadata == nil {
		_, _ = fmt.Fprintln(r.out, "session is read-only (no field metadata)")
		return nil
	}
	names := make([]string, 0, len(s.FieldMetadata))
	for name := range s.FieldMetadata {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fi := s.FieldMetadata[name]
		access := "read-only"
		if fi.Writable {
			access = "writable"
		}
		_, _ = fmt.Fprintf(r.out, "  %-30s %-12s %s\n", name, fi.Type, access)
	}
	return nil
}

func (r *repl) printHelp() {
	help := `
Commands:
  .tabs                         List open tabs
  .tab <n>                      Switch to tab n
  .close [n]                    Close a tab (default: active)
  .more                         Fetch the next page of the active tab
  .set <recordID> <field> <v>   Stage a field edit
  .unset <recordID> <field>     Discard a staged edit
  .commit                       Commit staged edits
  .export <file>                Bulk-export the active tab's query to CSV
  .describe                     Show field metadata for the active tab
  .clear                        Clear the screen
  .help                         Show this help message
  .quit / .exit                 Exit the REPL

Anything else runs as a query. Re-running a query that differs only in
case or whitespace refreshes its existing tab.
`
	_, _ = fmt.Fprintln(r.out, help)
}

func replCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".tabs"),
		readline.PcItem(".tab"),
		readline.PcItem(".close"),
		readline.PcItem(".more"),
		readline.PcItem(".set"),
		readline.PcItem(".unset"),
		readline.PcItem(".commit"),
		readline.PcItem(".export"),
		readline.PcItem(".describe"),
		readline.PcItem(".clear"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
