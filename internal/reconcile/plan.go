// Package reconcile compares the partitions already in the warehouse with
// those in the source extracts and decides which periods to delete and
// reload.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"tradeload/internal/partition"
)

// TypePlan is the plan for one trade type. Period lists are sorted
// chronologically.
type TypePlan struct {
	ToLoad   []string
	ToDelete []string
	Stable   []string
	Orphaned []string
}

// Empty reports whether nothing is to be deleted or loaded.
func (tp TypePlan) Empty() bool { return len(tp.ToLoad) == 0 && len(tp.ToDelete) == 0 }

// Plan holds the per trade type decisions plus the counts they were derived
// from, for reporting.
type Plan struct {
	Types  map[partition.TradeType]TypePlan
	Loaded partition.Inventory
	Source partition.Inventory
}

// Reconcile performs a full outer join of loaded and source on partition key:
//
//	absent  / present → ToLoad
//	n       / n       → Stable
//	n       / m != n  → ToDelete and ToLoad
//	present / absent  → Orphaned
//
// It is pure; the inventories are not modified.
func Reconcile(loaded, source partition.Inventory) Plan {
	p := Plan{
		Types:  map[partition.TradeType]TypePlan{},
		Loaded: loaded,
		Source: source,
	}
	keys := map[partition.Key]struct{}{}
	for k := range loaded {
		keys[k] = struct{}{}
	}
	for k := range source {
		keys[k] = struct{}{}
	}

	for k := range keys {
		ln, inL := loaded[k]
		sn, inS := source[k]
		tp := p.Types[k.TradeType]
		switch partition.StateOf(ln, inL, sn, inS) {
		case partition.StateNew:
			tp.ToLoad = append(tp.ToLoad, k.PeriodID)
		case partition.StateStable:
			tp.Stable = append(tp.Stable, k.PeriodID)
		case partition.StateDrifted:
			tp.ToDelete = append(tp.ToDelete, k.PeriodID)
			tp.ToLoad = append(tp.ToLoad, k.PeriodID)
		case partition.StateOrphaned:
			tp.Orphaned = append(tp.Orphaned, k.PeriodID)
		}
		p.Types[k.TradeType] = tp
	}

	for t, tp := range p.Types {
		partition.SortPeriods(tp.ToLoad)
		partition.SortPeriods(tp.ToDelete)
		partition.SortPeriods(tp.Stable)
		partition.SortPeriods(tp.Orphaned)
		p.Types[t] = tp
	}
	return p
}

// ForType returns the plan for t; the zero TypePlan when t has no partitions.
func (p Plan) ForType(t partition.TradeType) TypePlan { return p.Types[t] }

// Empty reports whether no trade type has work.
func (p Plan) Empty() bool {
	for _, tp := range p.Types {
		if !tp.Empty() {
			return false
		}
	}
	return true
}

// Orphans lists every orphaned partition, imports first, then by period.
func (p Plan) Orphans() []partition.Key {
	var out []partition.Key
	for _, t := range p.tradeTypes() {
		for _, per := range p.Types[t].Orphaned {
			out = append(out, partition.Key{TradeType: t, PeriodID: per})
		}
	}
	return out
}

// Counts returns the number of partitions per state across all trade types.
func (p Plan) Counts() map[partition.State]int {
	out := map[partition.State]int{}
	for _, tp := range p.Types {
		out[partition.StateNew] += len(tp.ToLoad) - len(tp.ToDelete)
		out[partition.StateDrifted] += len(tp.ToDelete)
		out[partition.StateStable] += len(tp.Stable)
		out[partition.StateOrphaned] += len(tp.Orphaned)
	}
	return out
}

// Row is one line of the human readable plan.
type Row struct {
	Key    partition.Key
	State  partition.State
	Loaded int64
	Source int64
}

// Rows lists every partition with its state in load order, then by period. Missing counts are reported as -1.
func (p Plan) Rows() []Row {
	var out []Row
	for _, t := range p.tradeTypes() {
		tp := p.Types[t]
		var periods []string
		periods = append(periods, tp.ToLoad...)
		periods = append(periods, tp.Stable...)
		periods = append(periods, tp.Orphaned...)
		partition.SortPeriods(periods)
		for _, per := range periods {
			k := partition.Key{TradeType: t, PeriodID: per}
			ln, inL := p.Loaded[k]
			sn, inS := p.Source[k]
			if !inL {
				ln = -1
			}
			if !inS {
				sn = -1
			}
			out = append(out, Row{Key: k, State: partition.StateOf(ln, inL, sn, inS), Loaded: ln, Source: sn})
		}
	}
	return out
}

// Validate checks that ToDelete is a subset of ToLoad, that Stable and
// ToLoad are disjoint and that every period id is well formed.
func (p Plan) Validate() error {
	var problems []string
	for _, t := range p.tradeTypes() {
		tp := p.Types[t]
		load := set(tp.ToLoad)
		for _, lists := range [][]string{tp.ToLoad, tp.ToDelete, tp.Stable, tp.Orphaned} {
			for _, per := range lists {
				if !partition.ValidPeriod(per) {
					problems = append(problems, fmt.Sprintf("%s: invalid period id %q", t, per))
				}
			}
		}
		for _, per := range tp.ToDelete {
			if _, ok := load[per]; !ok {
				problems = append(problems, fmt.Sprintf("%s %s: deleted but not reloaded", t, per))
			}
		}
		for _, per := range tp.Stable {
			if _, ok := load[per]; ok {
				problems = append(problems, fmt.Sprintf("%s %s: both stable and reloaded", t, per))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("reconcile: invalid plan: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Strict returns an *AmbiguityError when the plan has orphaned partitions.
func (p Plan) Strict() error {
	if o := p.Orphans(); len(o) > 0 {
		return &AmbiguityError{Orphans: o}
	}
	return nil
}

func (p Plan) tradeTypes() []partition.TradeType {
	out := make([]partition.TradeType, 0, len(p.Types))
	for t := range p.Types {
		out = append(out, t)
	}
	rank := func(t partition.TradeType) int {
		for i, known := range partition.TradeTypes {
			if t == known {
				return i
			}
		}
		return len(partition.TradeTypes)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

func set(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// AmbiguityError reports partitions present in the warehouse but absent from
// the source extracts. Whether they are stale or the extract is incomplete
// cannot be decided automatically.
type AmbiguityError struct {
	Orphans []partition.Key
}

func (e *AmbiguityError) Error() string {
	parts := make([]string, len(e.Orphans))
	for i, k := range e.Orphans {
		parts[i] = k.String()
	}
	return fmt.Sprintf("reconcile: %d orphaned partition(s) in warehouse but not in source: %s",
		len(e.Orphans), strings.Join(parts, ", "))
}
