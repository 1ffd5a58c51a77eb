package partition

import (
	"context"
	"fmt"

	"tradeload/internal/dataset"
	"tradeload/internal/logger"
	"tradeload/internal/storage"
)

// PeriodColumn and ReferenceColumn are the derived columns every fact table
// carries.
const (
	PeriodColumn    = "period_id"
	ReferenceColumn = "reference_id"
)

// LoadedOption tunes Loaded.
type LoadedOption func(*loadedOptions)

type loadedOptions struct {
	strict bool
}

// StrictQueries makes a failed table check or count query on an existing
// table an error instead of an empty contribution. A missing table stays
// soft.
func StrictQueries() LoadedOption {
	return func(o *loadedOptions) { o.strict = true }
}

// Loaded counts the records already in the warehouse per partition. A
// missing fact table contributes nothing and is logged as a warning, so a
// first run against an empty schema loads everything. By default a failed
// query is treated the same way; every source partition of that table is
// then planned as new and the next run sees the resulting drift. Use
// StrictQueries to fail instead. Context cancellation is always returned.
func Loaded(ctx context.Context, q storage.Querier, schema string, log logger.Logger, opts ...LoadedOption) (Inventory, error) {
	var o loadedOptions
	for _, fn := range opts {
		fn(&o)
	}
	if log == nil {
		log = logger.Nop()
	}
	inv := Inventory{}
	for _, t := range TradeTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := log.WithFields(logger.Fields{"schema": schema, "table": string(t)})

		ok, err := q.TableExists(ctx, schema, string(t))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if o.strict {
				return nil, fmt.Errorf("partition: table check %s: %w", t, err)
			}
			l.Warnf("partition: table check failed, treating as empty: %v", err)
			continue
		}
		if !ok {
			l.Warn("partition: fact table not found, treating as empty")
			continue
		}

		counts, err := q.PartitionCounts(ctx, schema, string(t), string(t))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if o.strict {
				return nil, fmt.Errorf("partition: count %s: %w", t, err)
			}
			l.Warnf("partition: count query failed, treating as empty: %v", err)
			continue
		}
		for _, pc := range counts {
			if !ValidPeriod(pc.PeriodID) {
				l.Warnf("partition: ignoring loaded rows with invalid period_id=%q count=%d", pc.PeriodID, pc.Count)
				continue
			}
			inv.Add(Key{TradeType: t, PeriodID: pc.PeriodID}, pc.Count)
		}
		l.Debugf("partition: loaded partitions=%d", len(inv.Periods(t)))
	}
	return inv, nil
}

// Source counts ds rows per period_id for trade type t. Rows with an empty
// reference_id are not counted, matching COUNT(reference_id) on the
// warehouse side. Invalid period ids are an error.
func Source(ds dataset.Named, t TradeType) (Inventory, error) {
	pIdx := ds.ColumnIndex(PeriodColumn)
	if pIdx < 0 {
		return nil, fmt.Errorf("partition: dataset %s: %w: %s", ds.Name, dataset.ErrNoColumn, PeriodColumn)
	}
	rIdx := ds.ColumnIndex(ReferenceColumn)

	inv := Inventory{}
	for i, r := range ds.Rows {
		if pIdx >= len(r) {
			return nil, fmt.Errorf("partition: dataset %s row %d: missing %s", ds.Name, i, PeriodColumn)
		}
		p := r[pIdx]
		if !ValidPeriod(p) {
			return nil, fmt.Errorf("partition: dataset %s row %d: invalid period id %q", ds.Name, i, p)
		}
		k := Key{TradeType: t, PeriodID: p}
		if rIdx >= 0 && (rIdx >= len(r) || r[rIdx] == "") {
			// keep the partition visible even when nothing in it is countable
			inv.Add(k, 0)
			continue
		}
		inv.Add(k, 1)
	}
	return inv, nil
}
