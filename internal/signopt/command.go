package signopt

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUnbalancedQuote is returned by Split for a command string whose
// double quotes do not pair up.
var ErrUnbalancedQuote = errors.New("unbalanced quote in command string")

// Join builds the relayed command string: tokens separated by single
// spaces, with any token that is empty or contains whitespace or a double
// quote wrapped in double quotes. Embedded quotes are doubled.
//
//	["/fd", "sha256"]           → `/fd sha256`
//	["/d", "My App", "/a"]      → `/d "My App" /a`
//	["/d", `say "hi"`]          → `/d "say ""hi"""`
func Join(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = quote(tok)
	}
	return strings.Join(quoted, " ")
}

func quote(tok string) string {
	if tok == "" || strings.ContainsRune(tok, '"') || strings.IndexFunc(tok, unicode.IsSpace) >= 0 {
		return `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return tok
}

// Split is the inverse of Join. Runs of whitespace separate tokens and a
// double-quoted span is part of one token; inside it "" stands for one
// literal quote. Backslashes carry no meaning so Windows paths pass
// through untouched.
func Split(s string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"' && inQuote && i+1 < len(runes) && runes[i+1] == '"':
			cur.WriteRune('"')
			i++
		case c == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(c) && !inQuote:
			if started {
				tokens = append(tokens, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(c)
			started = true
		}
	}
	if inQuote {
		return nil, ErrUnbalancedQuote
	}
	if started {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// ContainsNUL reports whether any token holds a NUL byte, which cannot be
// passed through a process argument vector.
func ContainsNUL(tokens []string) bool {
	for _, tok := range tokens {
		if strings.IndexByte(tok, 0) >= 0 {
			return true
		}
	}
	return false
}
