// Package signopt decides which signtool command-line options may be
// relayed to the signing host. It holds the static option catalogs, the
// single-pass classifier and the quoting rules for the forwarded command
// string.
package signopt

import (
	"sort"
	"strings"
)

// Command is the only signtool command the relay accepts.
const Command = "sign"

// Prefix starts every signtool option.
const Prefix = "/"

// Option describes one catalog entry.
type Option struct {
	Name        string
	Arity       int // trailing values consumed: 0, 1 or 2
	Forwardable bool
}

// forwardable options are relayed verbatim together with their values.
var forwardable = map[string]int{
	"/a":          0,
	"/as":         0,
	"/c":          1,
	"/d":          1,
	"/debug":      0,
	"/ds":         0,
	"/du":         1,
	"/dxml":       0,
	"/fd":         1,
	"/fdchw":      0,
	"/i":          1,
	"/itos":       0,
	"/n":          1,
	"/nosealwarn": 0,
	"/nph":        0,
	"/p7ce":       1,
	"/p7co":       1,
	"/ph":         0,
	"/q":          0,
	"/r":          1,
	"/rmc":        0,
	"/s":          1,
	"/sa":         2, // OID and value; may be repeated
	"/seal":       0,
	"/sha1":       1,
	"/sm":         0,
	"/t":          1,
	"/td":         1,
	"/tdchw":      0,
	"/tr":         1,
	"/tseal":      1,
	"/u":          1,
	"/uw":         0,
	"/v":          0,
}

// rejected options either carry a secret or point at a file on the
// caller's machine that the signing host cannot see.
var rejected = map[string]int{
	"/ac":   1,
	"/csp":  1,
	"/dg":   1,
	"/di":   1,
	"/dlib": 1,
	"/dmdf": 1,
	"/f":    1,
	"/kc":   1,
	"/p":    1,
	"/p7":   1,
}

// Lookup finds name in either catalog. Matching is case-insensitive, as
// it is for signtool itself.
func Lookup(name string) (Option, bool) {
	key := strings.ToLower(name)
	if arity, ok := forwardable[key]; ok {
		return Option{Name: key, Arity: arity, Forwardable: true}, true
	}
	if arity, ok := rejected[key]; ok {
		return Option{Name: key, Arity: arity}, true
	}
	return Option{}, false
}

// Forwardable returns the sorted names of the forwardable options.
func Forwardable() []string {
	return sortedKeys(forwardable)
}

// Rejected returns the sorted names of the rejected options.
func Rejected() []string {
	return sortedKeys(rejected)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isOptionShaped reports whether tok is to be classified as an option
// rather than a file pattern. Every token with the prefix is an option
// unless it is clearly an absolute path: a further separator follows,
// and its leading name is not a catalog option glued to punctuation.
//
//	/fd, /tr:http://ts, /f=cert.pfx, /app.exe → option
//	/home/me/app.exe, /a/b.exe                → path
func isOptionShaped(tok string) bool {
	if !strings.HasPrefix(tok, Prefix) || len(tok) == len(Prefix) {
		return false
	}
	rest := tok[len(Prefix):]
	if !strings.ContainsAny(rest, `/\`) {
		return true
	}
	n := 0
	for n < len(rest) && isAlnum(rest[n]) {
		n++
	}
	if n == 0 {
		return false
	}
	if _, known := Lookup(Prefix + rest[:n]); known && !isSeparator(rest[n]) {
		return true
	}
	return false
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isSeparator(c byte) bool {
	return c == '/' || c == '\\'
}
