// Package resolver maps human-readable instrument symbols to feed tokens.
package resolver

import "strings"

// Resolver resolves between trading symbols and instrument tokens.
type Resolver interface {
	// Resolve returns the token for symbol and whether it is known.
	Resolve(symbol string) (uint32, bool)

	// Symbol is the reverse lookup, used to label snapshots whose feed
	// payloads never carried a symbol.
	Symbol(token uint32) (string, bool)

	// Symbols returns every known symbol.
	Symbols() []string
}

// Static resolves symbols from a fixed table, typically loaded from
// configuration. Lookups are case-insensitive.
type Static struct {
	tokens  map[string]uint32
	names   map[uint32]string
	symbols []string
}

// NewStatic builds a resolver from a symbol-to-token table.
func NewStatic(table map[string]uint32) *Static {
	s := &Static{
		tokens:  make(map[string]uint32, len(table)),
		names:   make(map[uint32]string, len(table)),
		symbols: make([]string, 0, len(table)),
	}
	for sym, tok := range table {
		upper := strings.ToUpper(sym)
		s.tokens[upper] = tok
		s.names[tok] = upper
		s.symbols = append(s.symbols, upper)
	}
	return s
}

// Resolve returns the token for symbol and whether it is known.
func (s *Static) Resolve(symbol string) (uint32, bool) {
	tok, ok := s.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// Symbol returns the symbol for token and whether it is known.
func (s *Static) Symbol(token uint32) (string, bool) {
	sym, ok := s.names[token]
	return sym, ok
}

// Symbols returns every known symbol.
func (s *Static) Symbols() []string {
	return append([]string(nil), s.symbols...)
}
