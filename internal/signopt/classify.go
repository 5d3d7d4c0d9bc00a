package signopt

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned (wrapped in *OptionError) by Classify.
var (
	ErrNoArguments           = errors.New("no arguments")
	ErrUnsupportedCommand    = errors.New("unsupported command")
	ErrUnsupportedSubcommand = errors.New("unsupported subcommand")
	ErrUnknownSubcommand     = errors.New("unknown subcommand")
	ErrMissingOptionValue    = errors.New("missing option value")
)

// OptionError reports the token that stopped classification.
type OptionError struct {
	Kind     error
	Token    string
	Position int // index into the full token list
}

func (e *OptionError) Error() string {
	switch e.Kind {
	case ErrNoArguments:
		return "no arguments given"
	case ErrUnsupportedCommand:
		return fmt.Sprintf("unsupported command %q: only %q is supported", e.Token, Command)
	case ErrUnsupportedSubcommand:
		return fmt.Sprintf("option %s is not allowed to be relayed", e.Token)
	case ErrUnknownSubcommand:
		return fmt.Sprintf("unknown option %s", e.Token)
	case ErrMissingOptionValue:
		return fmt.Sprintf("option %s at position %d is missing its value", e.Token, e.Position)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Token)
}

func (e *OptionError) Unwrap() error { return e.Kind }

// Request is the outcome of a successful classification.
type Request struct {
	// Forwarded holds the relayed options and their values in input order.
	Forwarded []string
	// Patterns holds the file-path patterns in input order.
	Patterns []string
}

// Subcommands joins Forwarded into the string sent to the signing host.
func (r *Request) Subcommands() string {
	return Join(r.Forwarded)
}

// Classify walks tokens once. tokens[0] must be the sign command; every
// following token is a forwardable option (with its values), a rejected
// option, an unknown option, or a file-path pattern. The first rejected or
// unknown option stops the scan.
func Classify(tokens []string) (*Request, error) {
	if len(tokens) == 0 {
		return nil, &OptionError{Kind: ErrNoArguments}
	}
	if !strings.EqualFold(tokens[0], Command) {
		return nil, &OptionError{Kind: ErrUnsupportedCommand, Token: tokens[0]}
	}

	req := &Request{}
	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]
		if !isOptionShaped(tok) {
			req.Patterns = append(req.Patterns, tok)
			continue
		}

		opt, ok := Lookup(tok)
		switch {
		case !ok:
			return nil, &OptionError{Kind: ErrUnknownSubcommand, Token: tok, Position: i}
		case !opt.Forwardable:
			return nil, &OptionError{Kind: ErrUnsupportedSubcommand, Token: tok, Position: i}
		case i+opt.Arity >= len(tokens):
			return nil, &OptionError{Kind: ErrMissingOptionValue, Token: tok, Position: i}
		}

		// A value spelled like a rejected option would be read as that
		// option by some signtool versions, so it is refused too.
		for j := i + 1; j <= i+opt.Arity; j++ {
			if v, ok := Lookup(tokens[j]); ok && !v.Forwardable {
				return nil, &OptionError{Kind: ErrUnsupportedSubcommand, Token: tokens[j], Position: j}
			}
		}

		req.Forwarded = append(req.Forwarded, tokens[i:i+1+opt.Arity]...)
		i += opt.Arity
	}
	return req, nil
}
