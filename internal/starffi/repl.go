package starffi

import (
	"fmt"
	"os"

	"go.starlark.net/repl"
	"golang.org/x/term"
)

// REPL reads statements from stdin. On a terminal it is interactive with
// line editing; otherwise stdin is run as a single script.
func (h *Host) REPL() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if _, err := h.Exec("<stdin>", os.Stdin); err != nil {
			return err
		}
		return nil
	}

	fmt.Fprintln(h.out, "miniffi: MiniFFI(library, function, imports, exports), buffer(n); Ctrl-D to exit")
	repl.REPL(h.thread("repl"), h.Predeclared())
	return nil
}
