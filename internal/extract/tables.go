package extract

import (
	"context"
	"fmt"
	"strings"

	"tradeload/internal/dataset"
	"tradeload/internal/logger"
)

// ReadTable reads a ;-delimited file whose first record is the header into
// a dataset called name. Short records are padded with empty values; long
// records are dropped.
func ReadTable(ctx context.Context, path, name, encoding string, log logger.Logger) (dataset.Named, error) {
	if log == nil {
		log = logger.Nop()
	}
	rc, err := openDecoded(ctx, path, encoding)
	if err != nil {
		return dataset.Named{}, err
	}
	defer rc.Close()

	ds := dataset.Named{Name: name}
	dropped := 0
	err = streamRecords(ctx, rc,
		func(line int, rec []string) error {
			if ds.Columns == nil {
				ds.Columns = make([]string, len(rec))
				for i, c := range rec {
					ds.Columns[i] = c
					if c == "" {
						return fmt.Errorf("header column %d is empty", i+1)
					}
				}
				return nil
			}
			if len(rec) > len(ds.Columns) {
				dropped++
				log.WithFields(logger.Fields{"file": path, "line": line}).
					Warnf("extract: dropping record with %d fields; header has %d", len(rec), len(ds.Columns))
				return nil
			}
			row := make([]string, len(ds.Columns))
			copy(row, rec)
			ds.Rows = append(ds.Rows, row)
			return nil
		},
		func(line int, err error) {
			dropped++
			log.WithFields(logger.Fields{"file": path, "line": line}).Warnf("extract: %v", err)
		})
	if err != nil {
		return dataset.Named{}, fmt.Errorf("extract: read %s: %w", path, err)
	}
	if ds.Columns == nil {
		return dataset.Named{}, fmt.Errorf("extract: %s has no header", path)
	}
	if dropped > 0 {
		log.WithFields(logger.Fields{"file": path, "dropped": dropped}).Warn("extract: records dropped")
	}
	return ds, nil
}

// ReadDimensions reads every dimension file in paths into its own dataset,
// named after the file stem.
func ReadDimensions(ctx context.Context, paths []string, encoding string, log logger.Logger) ([]dataset.Named, error) {
	out := make([]dataset.Named, 0, len(paths))
	seen := map[string]string{}
	for _, p := range paths {
		name := stem(p)
		key := strings.ToLower(name)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("extract: %s and %s both load table %s", prev, p, name)
		}
		seen[key] = p
		ds, err := ReadTable(ctx, p, name, encoding, log)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// ReadCurrency concatenates every currency file in paths into one dataset
// called table. All files must share the first file's header.
func ReadCurrency(ctx context.Context, paths []string, table, encoding string, log logger.Logger) (*dataset.Named, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var out *dataset.Named
	for _, p := range paths {
		ds, err := ReadTable(ctx, p, table, encoding, log)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = &ds
			continue
		}
		if strings.Join(ds.Columns, ";") != strings.Join(out.Columns, ";") {
			return nil, fmt.Errorf("extract: %s header %v differs from %v", p, ds.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, ds.Rows...)
	}
	return out, nil
}
