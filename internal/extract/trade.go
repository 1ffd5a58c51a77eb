package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"tradeload/internal/config"
	"tradeload/internal/dataset"
	"tradeload/internal/logger"
	"tradeload/internal/partition"
)

// Derived columns appended to every trade dataset.
const (
	DateColumn = "fecha"
	Unknown    = "Unknown"
)

// DerivedColumns are appended, in order, after the configured columns.
var DerivedColumns = []string{DateColumn, partition.PeriodColumn, partition.ReferenceColumn}

// DefaultDateLayout reads dates like 01032024 (1 March 2024).
const DefaultDateLayout = "02012006"

// TradeStats counts what happened to the rows of one trade type.
type TradeStats struct {
	Files          int
	Read           int
	Extracted      int
	BadWidth       int
	DroppedNoDate  int
	DroppedBadDate int
	NonNumeric     int
	Duplicates     int
	OtherYears     int
	ParseErrors    int
}

// tradeReader turns raw records of one trade type into dataset rows.
type tradeReader struct {
	spec    config.TradeFile
	layout  string
	dateIdx int
	refIdx  []int
	numIdx  []int
	fill    map[int]string
	dedupe  bool
	seen    map[uint64]struct{}
	stats   TradeStats
	log     logger.Logger
}

func newTradeReader(t partition.TradeType, spec config.TradeFile, dedupe bool, log logger.Logger) (*tradeReader, error) {
	idx := make(map[string]int, len(spec.Columns))
	for i, c := range spec.Columns {
		idx[c] = i
	}
	lookup := func(col string) (int, error) {
		i, ok := idx[col]
		if !ok {
			return 0, fmt.Errorf("extract: %s: column %q is not in columns", t, col)
		}
		return i, nil
	}

	tr := &tradeReader{
		spec:   spec,
		layout: spec.DateLayout,
		fill:   map[int]string{},
		dedupe: dedupe,
		seen:   map[uint64]struct{}{},
		log:    log,
	}
	if tr.layout == "" {
		tr.layout = DefaultDateLayout
	}
	var err error
	if tr.dateIdx, err = lookup(spec.DateColumn); err != nil {
		return nil, err
	}
	for _, c := range spec.ReferenceColumns {
		i, err := lookup(c)
		if err != nil {
			return nil, err
		}
		tr.refIdx = append(tr.refIdx, i)
	}
	for _, c := range spec.NumericColumns {
		i, err := lookup(c)
		if err != nil {
			return nil, err
		}
		tr.numIdx = append(tr.numIdx, i)
	}
	for c, v := range spec.Fill {
		i, err := lookup(c)
		if err != nil {
			return nil, err
		}
		tr.fill[i] = v
	}
	return tr, nil
}

// row converts one raw record. It returns nil when the record is dropped.
func (tr *tradeReader) row(path string, line int, rec []string) []string {
	tr.stats.Read++
	width := len(tr.spec.Columns)
	// A trailing delimiter yields one extra empty field.
	if len(rec) == width+1 && rec[width] == "" {
		rec = rec[:width]
	}
	if len(rec) != width {
		tr.stats.BadWidth++
		if tr.stats.BadWidth <= 5 {
			tr.log.WithFields(logger.Fields{"file": path, "line": line, "fields": len(rec)}).
				Warnf("extract: dropping record with %d fields; want %d", len(rec), width)
		}
		return nil
	}

	if tr.dedupe {
		h := xxh3.HashString(strings.Join(rec, "\x1f"))
		if _, dup := tr.seen[h]; dup {
			tr.stats.Duplicates++
			return nil
		}
		tr.seen[h] = struct{}{}
	}

	out := make([]string, width, width+len(DerivedColumns))
	copy(out, rec)
	for i, v := range tr.fill {
		if out[i] == "" {
			out[i] = v
		}
	}
	for _, i := range tr.numIdx {
		v, ok := integerText(out[i])
		if !ok {
			tr.stats.NonNumeric++
			return nil
		}
		out[i] = v
	}

	raw := out[tr.dateIdx]
	if raw == "" {
		tr.stats.DroppedNoDate++
		return nil
	}
	day, err := ParseDate(raw, tr.layout)
	if err != nil {
		tr.stats.DroppedBadDate++
		if tr.stats.DroppedBadDate <= 5 {
			tr.log.WithFields(logger.Fields{"file": path, "line": line}).Warnf("extract: dropping record: %v", err)
		}
		return nil
	}

	ref := make([]string, len(tr.refIdx))
	for i, idx := range tr.refIdx {
		ref[i] = out[idx]
		if ref[i] == "" {
			ref[i] = Unknown
		}
	}
	out = append(out, day.Format("2006-01-02"), partition.FormatPeriod(day), strings.Join(ref, "-"))
	tr.stats.Extracted++
	return out
}

// ParseDate parses a day value with layout. Values are cut at a decimal
// point, truncated to the layout width and left-padded with zeros, so
// "1032024" and "1032024.0" read as 01032024.
func ParseDate(v, layout string) (time.Time, error) {
	s := strings.TrimSpace(v)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	if n := len(layout); len(s) > n {
		s = s[:n]
	} else if len(s) < n {
		s = strings.Repeat("0", n-len(s)) + s
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return t, nil
}

// integerText reports whether v is all digits, allowing a zero fraction
// such as "12.0", and returns the integer part.
func integerText(v string) (string, bool) {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		if strings.Trim(v[i+1:], "0") != "" {
			return "", false
		}
		v = v[:i]
	}
	if v == "" {
		return "", false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return v, true
}

// ReadTrade reads the headerless files of one trade type into a dataset
// named after the trade type.
func ReadTrade(ctx context.Context, t partition.TradeType, files []string, spec config.TradeFile, encoding string, dedupe bool, log logger.Logger) (dataset.Named, TradeStats, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithField("trade_type", string(t))
	tr, err := newTradeReader(t, spec, dedupe, log)
	if err != nil {
		return dataset.Named{}, TradeStats{}, err
	}

	ds := dataset.Named{
		Name:    string(t),
		Columns: append(append([]string{}, spec.Columns...), DerivedColumns...),
	}
	for _, path := range files {
		rc, err := openDecoded(ctx, path, encoding)
		if err != nil {
			return dataset.Named{}, tr.stats, err
		}
		err = streamRecords(ctx, rc,
			func(line int, rec []string) error {
				if r := tr.row(path, line, rec); r != nil {
					ds.Rows = append(ds.Rows, r)
				}
				return nil
			},
			func(line int, err error) {
				tr.stats.ParseErrors++
				log.WithFields(logger.Fields{"file": path, "line": line}).Warnf("extract: %v", err)
			})
		_ = rc.Close()
		if err != nil {
			return dataset.Named{}, tr.stats, fmt.Errorf("extract: read %s: %w", path, err)
		}
		tr.stats.Files++
		log.WithField("file", path).Debug("extract: trade file read")
	}
	return ds, tr.stats, nil
}

// LatestYear keeps only the rows of the most recent year present in the
// date column, and returns the number of rows removed.
func LatestYear(ds dataset.Named) (dataset.Named, int) {
	idx := ds.ColumnIndex(DateColumn)
	if idx < 0 || ds.Len() == 0 {
		return ds, 0
	}
	latest := ""
	for _, r := range ds.Rows {
		if y := r[idx][:4]; y > latest {
			latest = y
		}
	}
	out := ds.Filter(func(r []string) bool { return r[idx][:4] == latest })
	return out, ds.Len() - out.Len()
}
