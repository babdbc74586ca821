package sandbox

import (
	"strings"

	"agentguard/internal/domain"
)

// shellMetacharacters are rejected outright: the sandbox spawns argv directly
// and will never honor pipes, redirection, substitution, or globbing, so a
// command line containing them does not mean what its author intended.
const shellMetacharacters = "|&;()<>`${}[]*?~"

// ParseCommandString splits a raw command line into program and arguments.
// Quoting with single or double quotes groups words; there is no escape
// character and no expansion of any kind. An unterminated quote runs to the
// end of the line.
func ParseCommandString(raw string) (string, []string, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, shellMetacharacters); i >= 0 {
		return "", nil, domain.Errf(domain.KindShellMetacharacter,
			"command contains shell metacharacter %q; pipes, redirection and expansion are not supported", raw[i])
	}

	tokens := tokenize(raw)
	if len(tokens) == 0 {
		return "", nil, domain.Errf(domain.KindEmptyCommand, "empty command")
	}
	return tokens[0], tokens[1:], nil
}

func tokenize(raw string) []string {
	var (
		tokens  []string
		current strings.Builder
		inQuote bool
		quote   rune
	)

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, c := range raw {
		switch {
		case c == '\'' || c == '"':
			switch {
			case inQuote && c == quote:
				inQuote = false
				flush()
			case !inQuote:
				inQuote = true
				quote = c
			default:
				current.WriteRune(c)
			}
		case (c == ' ' || c == '\t' || c == '\n') && !inQuote:
			flush()
		default:
			current.WriteRune(c)
		}
	}
	flush()
	return tokens
}
