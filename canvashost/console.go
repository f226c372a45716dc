package canvashost

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

// Console is an interactive readline-style debug shell over a Host,
// grounded on calvinalkan-agent-task/cmd/sloty's liner wiring
// (SetCtrlCAborts, a completer, persisted history). It exists for
// operators inspecting a running host out-of-band; it is never on
// the hot path of event dispatch.
type Console struct {
	host        *Host
	historyPath string
	out         io.Writer
}

// NewConsole builds a console bound to host. historyPath, if
// non-empty, is read/written across sessions the same way sloty
// persists its own command history.
func NewConsole(host *Host, historyPath string) *Console {
	return &Console{host: host, historyPath: historyPath, out: os.Stdout}
}

var consoleCommands = []string{
	"live", "stale-reset", "quit", "help",
	"create", "theme", "remove", "stats",
}

func (c *Console) completer(line string) []string {
	var out []string
	for _, cmd := range consoleCommands {
		if strings.HasPrefix(cmd, line) {
			out = append(out, cmd)
		}
	}
	return out
}

// Run drives the prompt loop until the user quits or aborts with
// Ctrl-C/EOF. It is blocking and meant to be invoked from a dedicated
// goroutine or a standalone debug binary.
func (c *Console) Run() error {
	st := liner.NewLiner()
	defer st.Close()
	st.SetCtrlCAborts(true)
	st.SetCompleter(c.completer)

	if c.historyPath != "" {
		if f, err := os.Open(c.historyPath); err == nil {
			st.ReadHistory(f)
			f.Close()
		}
	}

	for {
		line, err := st.Prompt("wasmcore> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		st.AppendHistory(line)

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit":
			c.saveHistory(st)
			return nil
		case "live":
			fmt.Fprintf(c.out, "%d canvases tracked\n", c.host.Live())
		case "stale-reset":
			c.host.StaleReset()
			fmt.Fprintln(c.out, "all canvases marked stale")
		case "create":
			c.create(args)
		case "theme":
			c.theme(args)
		case "remove":
			c.remove(args)
		case "stats":
			c.stats()
		case "help":
			fmt.Fprintln(c.out, strings.Join(consoleCommands, ", "))
		default:
			fmt.Fprintf(c.out, "unknown command %q (try help)\n", line)
		}
	}
}

// create implements "create <id> <w> <h>": id is an operator-chosen
// label echoed back alongside the context id the host actually
// assigns (CreateCanvas owns id assignment; the console has no way to
// force a particular one).
func (c *Console) create(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.out, "usage: create <id> <w> <h>")
		return
	}
	id := args[0]
	w, err := strconv.ParseInt(args[1], 10, 16)
	if err != nil {
		fmt.Fprintf(c.out, "bad width %q: %v\n", args[1], err)
		return
	}
	h, err := strconv.ParseInt(args[2], 10, 16)
	if err != nil {
		fmt.Fprintf(c.out, "bad height %q: %v\n", args[2], err)
		return
	}
	ctxID, firstTransfer := c.host.CreateCanvas(int16(w), int16(h))
	if firstTransfer {
		c.host.MarkTransferred(ctxID)
	}
	fmt.Fprintf(c.out, "created %s as context %d (%dx%d, first_transfer=%v)\n", id, ctxID, w, h, firstTransfer)
}

// theme implements "theme <name> <color>": forwards one color-name to
// replacement-color mapping entry to the connected worker.
func (c *Console) theme(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.out, "usage: theme <name> <color>")
		return
	}
	if err := c.host.SetTheme(args[0], args[1]); err != nil {
		fmt.Fprintf(c.out, "theme: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "theme %s -> %s forwarded\n", args[0], args[1])
}

// remove implements "remove <id>", where id is the context id
// CreateCanvas previously reported.
func (c *Console) remove(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "usage: remove <id>")
		return
	}
	ctxID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(c.out, "bad context id %q: %v\n", args[0], err)
		return
	}
	c.host.RemoveCanvas(ctxID)
	fmt.Fprintf(c.out, "removed context %d\n", ctxID)
}

// stats implements "stats": a summary of the host's live canvas count
// and accumulated theme mapping, for operator inspection without a
// browser UI.
func (c *Console) stats() {
	theme := c.host.CurrentTheme()
	fmt.Fprintf(c.out, "live=%d theme_entries=%d\n", c.host.Live(), len(theme))
	for name, color := range theme {
		fmt.Fprintf(c.out, "  %s -> %s\n", name, color)
	}
}

func (c *Console) saveHistory(st *liner.State) {
	if c.historyPath == "" {
		return
	}
	if f, err := os.Create(c.historyPath); err == nil {
		st.WriteHistory(f)
		f.Close()
	}
}
