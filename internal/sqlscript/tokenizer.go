// Package sqlscript splits SQL script files into individually executable
// statements.
//
// The tokenizer is a line-oriented state machine with three exclusive states:
// normal accumulation, inside a /* ... */ block comment, and inside a
// BEGIN ... END block. It understands the batch separators found in SQL Server
// scripts (GO), single-line -- comments and MySQL-style DELIMITER directives.
package sqlscript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultTerminator is the statement terminator active at the start of a script.
const DefaultTerminator = ";"

// maxLineSize bounds a single script line; large INSERT dumps exceed the
// bufio.Scanner default of 64KiB.
const maxLineSize = 16 << 20

// Statement is one executable SQL statement, already terminated.
type Statement string

// String returns the statement text.
func (s Statement) String() string { return string(s) }

// ParseError reports a script that cannot be split safely. Nothing from a
// script that fails to parse should reach the database.
type ParseError struct {
	Path string // empty when parsing from a reader
	Line int    // 1-based line where the offending construct started
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sqlscript: %s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("sqlscript: line %d: %s", e.Line, e.Msg)
}

type state int

const (
	stateNormal state = iota
	stateBlockComment
	stateBeginEnd
)

type options struct {
	terminator     string
	keepTerminator bool
}

// Option customizes tokenizing.
type Option func(*options)

// WithTerminator sets the terminator active at the start of the script.
func WithTerminator(t string) Option {
	return func(o *options) {
		if strings.TrimSpace(t) != "" {
			o.terminator = strings.TrimSpace(t)
		}
	}
}

// WithKeepTerminator preserves custom terminators (e.g. $$) in the emitted
// statement text instead of rewriting them to ";".
func WithKeepTerminator() Option {
	return func(o *options) { o.keepTerminator = true }
}

// ParseFile opens path and tokenizes its contents.
func ParseFile(path string, opts ...Option) ([]Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sqlscript: open %s: %w", path, err)
	}
	defer f.Close()

	stmts, err := Tokenize(f, opts...)
	var pe *ParseError
	if errors.As(err, &pe) {
		pe.Path = path
	}
	return stmts, err
}

// TokenizeString is Tokenize over an in-memory script.
func TokenizeString(script string, opts ...Option) ([]Statement, error) {
	return Tokenize(strings.NewReader(script), opts...)
}

// Tokenize splits the script read from r into statements, preserving order.
//
// Rules, applied to each line in the normal state:
//   - blank lines and lines starting with -- are dropped;
//   - GO batch separators are dropped;
//   - DELIMITER <tok> switches the active terminator and emits nothing;
//   - a line starting with /* opens a block comment unless it also closes it;
//   - a line starting with the word BEGIN opens a block that is accumulated
//     verbatim until a line starting with END plus the active terminator (or
//     a GO separator);
//   - any other line is accumulated; a line containing the active terminator
//     completes the statement.
//
// Text left without a terminator at EOF is emitted as a final statement. An
// unterminated block comment or BEGIN block at EOF is a *ParseError.
func Tokenize(r io.Reader, opts ...Option) ([]Statement, error) {
	o := options{terminator: DefaultTerminator}
	for _, fn := range opts {
		fn(&o)
	}

	var (
		stmts    []Statement
		buf      strings.Builder
		st       = stateNormal
		term     = o.terminator
		lineNo   int
		openedAt int
	)

	emit := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		stmts = append(stmts, Statement(normalize(text, term, o.keepTerminator)))
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch st {
		case stateBlockComment:
			if strings.HasSuffix(trimmed, "*/") {
				st = stateNormal
			}
			continue

		case stateBeginEnd:
			// GO ends a T-SQL batch even when END carries no terminator.
			if isBatchSeparator(trimmed, term) {
				emit()
				st = stateNormal
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
			if isBlockEnd(trimmed, term) {
				emit()
				st = stateNormal
			}
			continue
		}

		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "--"):
			continue
		case isBatchSeparator(trimmed, term):
			continue
		}

		if tok, ok := delimiterDirective(trimmed); ok {
			term = tok
			continue
		}

		if strings.HasPrefix(trimmed, "/*") {
			if len(trimmed) < 4 || !strings.HasSuffix(trimmed, "*/") {
				st = stateBlockComment
				openedAt = lineNo
			}
			continue
		}

		// BEGIN TRANSACTION; and one-line BEGIN ... END; blocks are ordinary
		// statements.
		if startsWithWord(trimmed, "BEGIN") && !strings.HasSuffix(trimmed, term) {
			buf.WriteString(line)
			buf.WriteByte('\n')
			st = stateBeginEnd
			openedAt = lineNo
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.Contains(line, term) {
			emit()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sqlscript: read: %w", err)
	}

	switch st {
	case stateBlockComment:
		return nil, &ParseError{Line: openedAt, Msg: "unterminated block comment"}
	case stateBeginEnd:
		return nil, &ParseError{Line: openedAt, Msg: "unterminated BEGIN ... END block"}
	}
	emit()
	return stmts, nil
}

// Filter returns the statements whose text starts with prefix, compared
// case-insensitively (e.g. "drop" for the teardown part of an init script).
func Filter(stmts []Statement, prefix string) []Statement {
	prefix = strings.ToLower(prefix)
	var out []Statement
	for _, s := range stmts {
		if strings.HasPrefix(strings.ToLower(string(s)), prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Exclude returns the statements that Filter would not.
func Exclude(stmts []Statement, prefix string) []Statement {
	prefix = strings.ToLower(prefix)
	var out []Statement
	for _, s := range stmts {
		if !strings.HasPrefix(strings.ToLower(string(s)), prefix) {
			out = append(out, s)
		}
	}
	return out
}

func isBatchSeparator(trimmed, term string) bool {
	return strings.EqualFold(strings.TrimSuffix(trimmed, term), "GO")
}

func isBlockEnd(trimmed, term string) bool {
	if len(trimmed) < 3 || !strings.EqualFold(trimmed[:3], "END") {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(trimmed[3:]), term)
}

// delimiterDirective recognizes "DELIMITER <tok>".
func delimiterDirective(trimmed string) (string, bool) {
	fields := strings.Fields(trimmed)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "DELIMITER") {
		return "", false
	}
	return fields[1], true
}

func startsWithWord(s, word string) bool {
	if len(s) < len(word) || !strings.EqualFold(s[:len(word)], word) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	switch s[len(word)] {
	case ' ', '\t':
		return true
	}
	return false
}

func normalize(text, term string, keep bool) string {
	if keep || term == DefaultTerminator {
		return text
	}
	if strings.HasSuffix(text, term) {
		return strings.TrimSpace(strings.TrimSuffix(text, term)) + DefaultTerminator
	}
	return text
}
