// Package partition models the (trade type, period) partitions of the fact
// tables and builds per-partition record counts from the warehouse and from
// source datasets.
package partition

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TradeType names a fact table.
type TradeType string

const (
	Imports TradeType = "imports"
	Exports TradeType = "exports"
)

// TradeTypes lists the fact tables in load order.
var TradeTypes = []TradeType{Imports, Exports}

// Key identifies one partition.
type Key struct {
	TradeType TradeType
	PeriodID  string
}

func (k Key) String() string { return string(k.TradeType) + " " + k.PeriodID }

var periodRe = regexp.MustCompile(`^\d{4}-(1[0-2]|[1-9])$`)

// ValidPeriod reports whether p is "YYYY-M" with no month zero padding.
func ValidPeriod(p string) bool { return periodRe.MatchString(p) }

// FormatPeriod renders t's year and month as a period id, e.g. "2024-3".
func FormatPeriod(t time.Time) string {
	return strconv.Itoa(t.Year()) + "-" + strconv.Itoa(int(t.Month()))
}

// ParsePeriod splits a valid period id into year and month.
func ParsePeriod(p string) (year, month int, err error) {
	if !ValidPeriod(p) {
		return 0, 0, fmt.Errorf("partition: invalid period id %q", p)
	}
	y, m, _ := strings.Cut(p, "-")
	year, _ = strconv.Atoi(y)
	month, _ = strconv.Atoi(m)
	return year, month, nil
}

// LessPeriod orders period ids chronologically. Invalid ids sort after valid
// ones, lexically.
func LessPeriod(a, b string) bool {
	ay, am, aerr := ParsePeriod(a)
	by, bm, berr := ParsePeriod(b)
	switch {
	case aerr != nil && berr != nil:
		return a < b
	case aerr != nil:
		return false
	case berr != nil:
		return true
	case ay != by:
		return ay < by
	default:
		return am < bm
	}
}

// SortPeriods sorts ps chronologically in place.
func SortPeriods(ps []string) {
	sort.Slice(ps, func(i, j int) bool { return LessPeriod(ps[i], ps[j]) })
}

// Inventory maps partitions to record counts.
type Inventory map[Key]int64

// Add increments the count of k.
func (inv Inventory) Add(k Key, n int64) { inv[k] += n }

// Merge adds every count of other into inv.
func (inv Inventory) Merge(other Inventory) {
	for k, n := range other {
		inv[k] += n
	}
}

// Periods returns the sorted period ids present for t.
func (inv Inventory) Periods(t TradeType) []string {
	var out []string
	for k := range inv {
		if k.TradeType == t {
			out = append(out, k.PeriodID)
		}
	}
	SortPeriods(out)
	return out
}

// Total returns the sum of counts for t.
func (inv Inventory) Total(t TradeType) int64 {
	var n int64
	for k, c := range inv {
		if k.TradeType == t {
			n += c
		}
	}
	return n
}

// State is the reconciliation state of one partition.
type State string

const (
	StateNew      State = "new"
	StateStable   State = "stable"
	StateDrifted  State = "drifted"
	StateOrphaned State = "orphaned"
)

// StateOf derives the state from the optional loaded and source counts.
// It returns "" when the partition is in neither.
func StateOf(loaded int64, inLoaded bool, source int64, inSource bool) State {
	switch {
	case !inLoaded && inSource:
		return StateNew
	case inLoaded && !inSource:
		return StateOrphaned
	case inLoaded && inSource && loaded == source:
		return StateStable
	case inLoaded && inSource:
		return StateDrifted
	default:
		return ""
	}
}
