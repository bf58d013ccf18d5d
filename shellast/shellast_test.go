package shellast

import (
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"":        "''",
		"foo":     "'foo'",
		"foo bar": "'foo bar'",
		"it's":    `'it'\''s'`,
	}
	for in, want := range tests {
		if got := Quote(in).Render(); got != want {
			t.Errorf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandRender(t *testing.T) {
	c := NewCommand("mv", "src", "dst")
	if got, want := c.Render(), "mv 'src' 'dst'"; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestCommandWrap(t *testing.T) {
	build := NewCommand("sh", "-ec", "make")
	wrapped := NewCommand("linux32").Wrap(build)
	want := "linux32 sh '-ec' 'make'"
	if got := wrapped.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestAndListEmptyIsTrue(t *testing.T) {
	if got := (AndList{}).Render(); got != "true" {
		t.Errorf("empty AndList = %q, want true", got)
	}
}

func TestAndListChain(t *testing.T) {
	al := AndList{}.Append(NewCommand("umask", "0022")).Append(NewCommand("make"))
	want := "umask '0022' && make"
	if got := al.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestListPrependIsLIFO(t *testing.T) {
	l := List{}
	l = l.Prepend(NewCommand("mkdir", "x"))
	l = l.Prepend(NewCommand("mount", "x"))
	// mount was prepended last, so it must appear first (undo mount before rmdir).
	want := "mount 'x' || __c=$?; mkdir 'x' || __c=$?;"
	if got := l.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestScriptRenderNoCleanup(t *testing.T) {
	s := Script{
		Setup:        AndList{}.Append(NewCommand("umask", "0022")),
		BuildCommand: NewCommand("sh", "-ec", "make"),
	}
	got := s.Render()
	want := "( umask '0022' && sh '-ec' 'make' )\n"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestScriptRenderWithCleanup(t *testing.T) {
	s := Script{
		Setup:        AndList{}.Append(NewCommand("mount", "x")),
		BuildCommand: NewCommand("sh", "-ec", "make"),
		Cleanup:      List{}.Prepend(NewCommand("umount", "x")),
		CleanOnError: true,
	}
	got := s.Render()
	for _, want := range []string{"run_build() {", "cleanup()   {", "trap 'cleanup'", "if run_build; then cleanup; else", "if true; then cleanup"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q, got:\n%s", want, got)
		}
	}
}
