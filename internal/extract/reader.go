package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Comma separates fields in every source file.
const Comma = ';'

// decoder returns the decoder for a WHATWG encoding label. UTF-8 input has
// a leading BOM removed.
func decoder(label string) (*encoding.Decoder, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" || label == "utf-8" || label == "utf8" {
		return unicode.UTF8BOM.NewDecoder(), nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("extract: unknown encoding %q: %w", label, err)
	}
	return enc.NewDecoder(), nil
}

// openDecoded opens path and decodes it to UTF-8.
func openDecoded(ctx context.Context, path, label string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dec, err := decoder(label)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: open %s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{transform.NewReader(f, dec), f}, nil
}

// streamRecords reads ;-delimited records from r and calls fn with the
// 1-based line of each record and its trimmed fields. Parse errors are
// reported through onError and skipped; any other read error ends the
// stream. The slice passed to fn is reused.
func streamRecords(ctx context.Context, r io.Reader, fn func(line int, rec []string) error, onError func(line int, err error)) error {
	cr := csv.NewReader(r)
	cr.Comma = Comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	n := 0
	for {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		n++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("read: %w", err)
			}
			if onError != nil {
				onError(perr.Line, fmt.Errorf("parse: %w", err))
			}
			continue
		}
		for i, v := range rec {
			rec[i] = strings.TrimSpace(v)
		}
		line, _ := cr.FieldPos(0)
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
