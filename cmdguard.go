package svchost

import (
	"fmt"
	"strings"
)

// CommandGuard validates process-argument strings against shell injection
// patterns before they are written into the host-tool configuration. It
// gates, it does not rewrite: metacharacters inside double-quoted spans are
// legitimate argument text and pass untouched. The orchestrator rejects bad
// input outright rather than passing sanitized variants along, so an
// injection attempt is surfaced instead of being masked as "fixed" input.
type CommandGuard struct{}

// NewCommandGuard creates a CommandGuard
func NewCommandGuard() *CommandGuard {
	return &CommandGuard{}
}

// Validate rejects argument strings containing command chaining or
// substitution metacharacters outside double-quoted spans.
func (g *CommandGuard) Validate(args string) error {
	if pattern := firstInjectionPattern(args); pattern != "" {
		return fmt.Errorf("%w: arguments contain %q", ErrValidation, pattern)
	}
	return nil
}

// Sanitize strips injection metacharacters found outside double-quoted
// spans. Provided for callers that need a best-effort cleanup; the
// orchestrator itself validates and rejects instead.
func (g *CommandGuard) Sanitize(args string) string {
	var b strings.Builder
	b.Grow(len(args))

	inQuote := false
	for i := 0; i < len(args); i++ {
		c := args[i]
		if c == '"' {
			inQuote = !inQuote
			b.WriteByte(c)
			continue
		}
		if inQuote {
			b.WriteByte(c)
			continue
		}
		switch c {
		case ';', '`', '|', '&', '<', '>', '\n', '\r':
			continue
		case '$':
			if i+1 < len(args) && args[i+1] == '(' {
				i++
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// firstInjectionPattern scans outside double-quoted spans and returns the
// first chaining/substitution pattern found, or "" when the string is clean.
func firstInjectionPattern(args string) string {
	inQuote := false
	for i := 0; i < len(args); i++ {
		c := args[i]
		if c == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch c {
		case ';':
			return ";"
		case '`':
			return "`"
		case '\n', '\r':
			return "newline"
		case '<':
			return "<"
		case '>':
			return ">"
		case '&':
			if i+1 < len(args) && args[i+1] == '&' {
				return "&&"
			}
			return "&"
		case '|':
			if i+1 < len(args) && args[i+1] == '|' {
				return "||"
			}
			return "|"
		case '$':
			if i+1 < len(args) && args[i+1] == '(' {
				return "$("
			}
		}
	}
	return ""
}
