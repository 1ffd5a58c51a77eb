package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"tradeload/internal/partition"
	"tradeload/internal/pipeline"
	"tradeload/internal/reconcile"
)

// colorEnabled reports whether w is a terminal and NO_COLOR is unset.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type palette struct {
	ok, warn, bad, quiet *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		ok:    color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
		quiet: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.quiet} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) state(s partition.State) string {
	switch s {
	case partition.StateNew:
		return p.ok.Sprint(s)
	case partition.StateDrifted:
		return p.warn.Sprint(s)
	case partition.StateOrphaned:
		return p.bad.Sprint(s)
	default:
		return p.quiet.Sprint(s)
	}
}

func count(n int64) string {
	if n < 0 {
		return "-"
	}
	return strconv.FormatInt(n, 10)
}

// renderPlan prints one line per partition and a state summary.
func renderPlan(w io.Writer, plan reconcile.Plan, useColor bool) {
	pal := newPalette(useColor)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tPERIOD\tLOADED\tSOURCE\tSTATE")
	for _, r := range plan.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Key.TradeType, r.Key.PeriodID, count(r.Loaded), count(r.Source), pal.state(r.State))
	}
	_ = tw.Flush()

	c := plan.Counts()
	fmt.Fprintf(w, "\nnew=%d drifted=%d stable=%d orphaned=%d\n",
		c[partition.StateNew], c[partition.StateDrifted], c[partition.StateStable], c[partition.StateOrphaned])
	if plan.Empty() {
		fmt.Fprintln(w, "nothing to load")
	}
}

// renderLoad prints one line per loaded table.
func renderLoad(w io.Writer, res pipeline.RunResult, useColor bool) {
	pal := newPalette(useColor)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS\tDELETED\tSTATUS")
	for _, t := range res.Load.Tables {
		status := pal.ok.Sprint("ok")
		switch {
		case t.Err != nil:
			status = pal.bad.Sprintf("failed: %v", t.Err)
		case t.Skipped:
			status = pal.quiet.Sprint("skipped")
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.Table, t.Rows, len(t.Deleted), status)
	}
	_ = tw.Flush()

	if res.Report != nil {
		fmt.Fprintf(w, "\nreport: executed=%d failed=%d\n", res.Report.Executed, res.Report.Failed)
	} else {
		fmt.Fprintln(w, "\nreport: skipped")
	}
}
