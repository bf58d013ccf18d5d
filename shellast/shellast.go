// Package shellast implements a minimal shell command AST and a single
// operation on it: rendering to a POSIX sh -ec script that runs cleanup at
// most once per build (always after a successful build), with well-defined
// ordering between setup, the build command, and cleanup.
package shellast

import "strings"

// Node is anything that renders to a fragment of shell source.
type Node interface {
	Render() string
}

// Word is a single already-shell-safe token, typically produced by Quote.
type Word string

// Render returns the word verbatim.
func (w Word) Render() string { return string(w) }

// Quote shell-quotes an arbitrary string using single quotes, the only
// quoting style that needs no escaping rules beyond closing the quote
// around each embedded single quote, backslash-escaping it, and reopening.
func Quote(s string) Word {
	if s == "" {
		return Word("''")
	}
	return Word("'" + strings.ReplaceAll(s, "'", `'\''`) + "'")
}

// Raw wraps a string that is already valid, unquoted shell syntax (for
// example a previously-rendered Command used as an argument to another).
func Raw(s string) Word { return Word(s) }

// Command is a simple command: optional prefix words (variable
// assignments), a command name, and suffix words/nodes (arguments, which
// may themselves be rendered sub-commands, as when one wrapper command
// takes the whole prior build command as its last argument).
type Command struct {
	Prefix []Node
	Name   string
	Suffix []Node
}

// NewCommand builds a Command from quoted string arguments: the first is
// the command name, the rest its suffix arguments.
func NewCommand(name string, args ...string) Command {
	c := Command{Name: name}
	for _, a := range args {
		c.Suffix = append(c.Suffix, Quote(a))
	}
	return c
}

// WithArg returns a copy of c with an additional suffix argument appended.
func (c Command) WithArg(n Node) Command {
	next := c
	next.Suffix = append(append([]Node{}, c.Suffix...), n)
	return next
}

// WithArgString is WithArg for a plain string, quoted.
func (c Command) WithArgString(s string) Command {
	return c.WithArg(Quote(s))
}

// Wrap returns a new Command whose name/prefix are c's, with inner appended
// as the final suffix argument -- the idiom used to nest one wrapper
// command (sudo, linux64, faketime, nsenter) around the build command.
func (c Command) Wrap(inner Node) Command {
	return c.WithArg(inner)
}

// Render renders "prefix... name suffix...".
func (c Command) Render() string {
	var parts []string
	for _, p := range c.Prefix {
		parts = append(parts, p.Render())
	}
	parts = append(parts, c.Name)
	for _, s := range c.Suffix {
		parts = append(parts, s.Render())
	}
	return strings.Join(parts, " ")
}

// AndList is a shell "&&" chain: every command must succeed for the next to
// run. An empty AndList renders to "true", the canonical shell no-op that
// always succeeds, so it composes safely as the first element of a chain.
type AndList struct {
	Commands []Node
}

// Append returns a new AndList with cmd appended.
func (a AndList) Append(cmd Node) AndList {
	return AndList{Commands: append(append([]Node{}, a.Commands...), cmd)}
}

// Empty reports whether the and-list has no commands.
func (a AndList) Empty() bool { return len(a.Commands) == 0 }

// Render joins the commands with " && ", or "true" if empty.
func (a AndList) Render() string {
	if len(a.Commands) == 0 {
		return "true"
	}
	parts := make([]string, len(a.Commands))
	for i, c := range a.Commands {
		parts[i] = c.Render()
	}
	return strings.Join(parts, " && ")
}

// Term is one statement in a List: a command plus whether its exit status
// must be caught (rather than aborting the list) via "|| __c=$?".
type Term struct {
	Cmd   Node
	Catch bool
}

// Render renders "cmd;" or "cmd || __c=$?;" for a catching term.
func (t Term) Render() string {
	if t.Catch {
		return t.Cmd.Render() + " || __c=$?;"
	}
	return t.Cmd.Render() + ";"
}

// List is an unconditional sequence of terms, each attempted regardless of
// whether earlier ones failed -- the shape cleanup commands need, since
// every rollback step must run even if an earlier rollback step failed.
type List struct {
	Terms []Term
}

// Prepend returns a new List with a catching term for cmd placed before the
// existing terms -- the LIFO ordering cleanup requires: the most recently
// allocated resource is torn down first.
func (l List) Prepend(cmd Node) List {
	next := List{Terms: make([]Term, 0, len(l.Terms)+1)}
	next.Terms = append(next.Terms, Term{Cmd: cmd, Catch: true})
	next.Terms = append(next.Terms, l.Terms...)
	return next
}

// Empty reports whether the list has no terms.
func (l List) Empty() bool { return len(l.Terms) == 0 }

// Render concatenates each term's rendering, separated by spaces.
func (l List) Render() string {
	parts := make([]string, len(l.Terms))
	for i, t := range l.Terms {
		parts[i] = t.Render()
	}
	return strings.Join(parts, " ")
}

// Subshell renders an AndList inside "( ... )" so that environment changes
// (cd, umask, export) made by setup and the build command never leak into
// the surrounding script -- in particular, into cleanup.
type Subshell struct {
	Body AndList
}

// Render renders "( body )".
func (s Subshell) Render() string {
	return "( " + s.Body.Render() + " )"
}

// Script composes a full build script from setup, a build command, and
// cleanup, per the "run exactly once" contract: cleanup always runs after a
// successful build; after a failed build it runs only if CleanOnError is
// true, and either way the script's own exit status is the build command's,
// never cleanup's.
type Script struct {
	Setup        AndList
	BuildCommand Node
	Cleanup      List
	CleanOnError bool
}

// Render emits the POSIX sh -ec script.
func (s Script) Render() string {
	subshell := Subshell{Body: s.Setup.Append(s.BuildCommand)}

	if s.Cleanup.Empty() {
		return subshell.Render() + "\n"
	}

	cleanOnError := "false"
	if s.CleanOnError {
		cleanOnError = "true"
	}

	var b strings.Builder
	b.WriteString("run_build() { " + subshell.Render() + "; }\n")
	b.WriteString("cleanup()   { ( __c=0; " + s.Cleanup.Render() + " exit $__c; ); }\n")
	b.WriteString("\n")
	b.WriteString("trap 'cleanup' HUP INT QUIT ABRT TERM PIPE\n")
	b.WriteString("if run_build; then cleanup; else\n")
	b.WriteString("  __x=$?\n")
	b.WriteString("  if " + cleanOnError + "; then cleanup || echo >&2 \"cleanup failed: $?\"; fi\n")
	b.WriteString("  exit $__x\n")
	b.WriteString("fi\n")
	return b.String()
}
