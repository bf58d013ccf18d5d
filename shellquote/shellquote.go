// Package shellquote sanitizes user-supplied shell-glob patterns (the file
// trees named on the command line) before they are ever interpolated into a
// generated shell script. It accepts quoting and globbing but rejects
// anything that could execute a command, enforcing the trust boundary
// between CLI arguments and the scripts the orchestrator generates.
package shellquote

import "fmt"

// specialOutsideQuotes are the characters that are never allowed unescaped
// and unquoted, because a shell would treat them as control operators.
const specialOutsideQuotes = "|&;<>()$`"

// specialInDoubleQuotes are the characters double quotes don't neutralize.
const specialInDoubleQuotes = "$`"

// escapedInDoubleQuotes are the characters a backslash actually escapes
// inside double quotes; for anything else the backslash is literal.
const escapedInDoubleQuotes = "$`\"\\"

// SyntaxError reports that a snippet contains shell syntax beyond glob
// patterns and quoting, or has an unterminated quote/escape.
type SyntaxError struct {
	Snippet string
	Reason  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("not a shell-glob pattern (%s): %s", e.Reason, e.Snippet)
}

// SanitizeGlobs validates that s contains only glob expressions and quoting
// -- no pipes, redirections, substitutions, or command separators -- and
// returns it as a single space-joined snippet with each word prefixed by
// "./" so it can never be mistaken for a command-line option.
func SanitizeGlobs(s string) (string, error) {
	words, err := SanitizeGlobWords(s)
	if err != nil {
		return "", err
	}
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out, nil
}

// SanitizeGlobWords is SanitizeGlobs without the final join, forcing every
// word to be relative via a "./" prefix.
func SanitizeGlobWords(s string) ([]string, error) {
	var words []string
	var cw []byte
	haveWord := false

	nextWord := func() {
		if haveWord {
			words = append(words, "./"+string(cw))
			cw = nil
			haveWord = false
		}
	}

	var inQuote byte // 0, '\'', or '"'
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case inQuote == 0:
			if escaped {
				escaped = false
			} else {
				if containsByte(specialOutsideQuotes, c) {
					return nil, &SyntaxError{Snippet: s, Reason: "control character outside quotes"}
				}
				switch c {
				case '\\':
					escaped = true
				case '\'', '"':
					inQuote = c
				case ' ':
					nextWord()
					continue
				}
			}

		case inQuote == '\'':
			if c == '\'' {
				inQuote = 0
			}

		case inQuote == '"':
			if escaped {
				if !containsByte(escapedInDoubleQuotes, c) {
					cw = append(cw, '\\')
				}
				escaped = false
			} else {
				switch {
				case containsByte(specialInDoubleQuotes, c):
					return nil, &SyntaxError{Snippet: s, Reason: "substitution inside double quotes"}
				case c == '\\':
					escaped = true
				case c == '"':
					inQuote = 0
				}
			}
		}

		cw = append(cw, c)
		haveWord = true
	}

	if inQuote != 0 || escaped {
		return nil, &SyntaxError{Snippet: s, Reason: "unclosed quote or escape"}
	}
	nextWord()

	return words, nil
}

func containsByte(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == c {
			return true
		}
	}
	return false
}
