// Package boterror implements the structured error type shared by every
// component of the bot: a stable key, the call site that raised it, and an
// ordered chain of causes that a tree printer can render for logs.
package boterror

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an Error for propagation-policy decisions: which ones
// get logged only, which get surfaced to the user, and which trip a
// circuit breaker.
type Kind string

const (
	KindTransport Kind = "transport"
	KindAPI       Kind = "api"
	KindStore     Kind = "store"
	KindCodec     Kind = "codec"
	KindInference Kind = "inference"
	KindParse     Kind = "parse"
	KindConfig    Kind = "config"
	KindAssets    Kind = "assets"
)

// Error is the bot's structured error type. It carries a stable kebab-case
// key, the source location of the call that created it, and an ordered
// chain of causes (other *Error values or plain errors).
type Error struct {
	Key    string
	Kind   Kind
	File   string
	Line   int
	causes []error
}

// New creates an Error with the given key and kind, capturing the caller's
// source location.
func New(kind Kind, key string) *Error {
	e := &Error{Key: key, Kind: kind}
	if _, file, line, ok := runtime.Caller(1); ok {
		e.File = shortFile(file)
		e.Line = line
	}
	return e
}

// shortFile trims a source path down to its last two segments so logs don't
// carry the full build-machine path.
func shortFile(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) <= 2 {
		return file
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

// With appends a cause and returns the receiver, so construction chains.
func (e *Error) With(cause error) *Error {
	if cause != nil {
		e.causes = append(e.causes, cause)
	}
	return e
}

// Withf appends a formatted string as a cause.
func (e *Error) Withf(format string, args ...any) *Error {
	return e.With(fmt.Errorf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%d] %s", e.File, e.Line, e.Key)
	if len(e.causes) > 0 {
		fmt.Fprintf(&b, ": %s", e.causes[0])
	}
	return b.String()
}

// Unwrap exposes the first cause so errors.Is/errors.As traverse the chain.
func (e *Error) Unwrap() error {
	if len(e.causes) == 0 {
		return nil
	}
	return e.causes[0]
}

// Causes returns every recorded cause, in the order they were attached.
func (e *Error) Causes() []error {
	return e.causes
}

// PrintTree renders the error and its full causal chain as an ASCII tree,
// one branch per cause, recursing into nested *Error causes.
func (e *Error) PrintTree() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[ERROR] %s:%d - %s\n", e.File, e.Line, e.Key)
	e.printCauses(&b, "")
	return b.String()
}

func (e *Error) printCauses(b *strings.Builder, prefix string) {
	for i, cause := range e.causes {
		last := i == len(e.causes)-1
		branch, ext := "├── ", "│   "
		if last {
			branch, ext = "└── ", "    "
		}
		var nested *Error
		if errors.As(cause, &nested) {
			fmt.Fprintf(b, "%s%s[%s:%d] %s\n", prefix, branch, nested.File, nested.Line, nested.Key)
			nested.printCauses(b, prefix+ext)
			continue
		}
		fmt.Fprintf(b, "%s%s%s\n", prefix, branch, cause)
		depth := 0
		for source := errors.Unwrap(cause); source != nil; source = errors.Unwrap(source) {
			fmt.Fprintf(b, "%s%s%s↳ %s\n", prefix, ext, strings.Repeat("  ", depth), source)
			depth++
		}
	}
}

// Is reports key equality so sentinel comparisons (errors.Is(err, someKey))
// work against a bare key string wrapped with KeyOf.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return k.Key == e.Key
	}
	return false
}

// KeyOf is a standalone sentinel usable with errors.Is: KeyOf("store-unavailable").
func KeyOf(key string) error {
	return &Error{Key: key}
}
