// Package extract reads the customs source files into named datasets: the
// headerless trade files of each trade type, the dimension tables and the
// currency table.
package extract

import (
	"context"
	"fmt"
	"time"

	"tradeload/internal/config"
	"tradeload/internal/dataset"
	"tradeload/internal/logger"
	"tradeload/internal/metrics"
	"tradeload/internal/partition"
)

// Result holds everything one extract produced.
type Result struct {
	Dimensions []dataset.Named
	Currency   *dataset.Named
	Trade      map[partition.TradeType]dataset.Named
	Stats      map[partition.TradeType]TradeStats
}

// Extractor reads the files described by a config.Source.
type Extractor struct {
	src config.Source
	job string
	log logger.Logger
}

// New returns an Extractor. job labels the row metrics.
func New(src config.Source, job string, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	return &Extractor{src: src, job: job, log: log.WithField("component", "extract")}
}

// Extract reads the dimension, currency and trade files.
func (e *Extractor) Extract(ctx context.Context) (Result, error) {
	start := time.Now()
	res, err := e.extract(ctx)
	metrics.RecordStep(e.job, "extract", err, time.Since(start))
	return res, err
}

func (e *Extractor) extract(ctx context.Context) (Result, error) {
	res := Result{
		Trade: map[partition.TradeType]dataset.Named{},
		Stats: map[partition.TradeType]TradeStats{},
	}

	if e.src.DimensionsDir != "" {
		paths, err := ListFiles(e.src.DimensionsDir, e.src.DimensionPrefix, ".csv")
		if err != nil {
			return Result{}, err
		}
		if res.Dimensions, err = ReadDimensions(ctx, paths, e.src.Encoding, e.log); err != nil {
			return Result{}, err
		}
		e.log.WithField("tables", len(res.Dimensions)).Info("extract: dimensions read")
	}

	if e.src.CurrencyDir != "" {
		paths, err := ListFiles(e.src.CurrencyDir, "", ".csv")
		if err != nil {
			return Result{}, err
		}
		if res.Currency, err = ReadCurrency(ctx, paths, e.src.CurrencyTable, e.src.Encoding, e.log); err != nil {
			return Result{}, err
		}
		if res.Currency != nil {
			e.log.WithField("rows", res.Currency.Len()).Info("extract: currency read")
		}
	}

	for _, t := range partition.TradeTypes {
		ds, stats, err := e.Trade(ctx, t)
		if err != nil {
			return Result{}, err
		}
		res.Trade[t] = ds
		res.Stats[t] = stats
	}
	return res, nil
}

// Trade reads the files of one trade type.
func (e *Extractor) Trade(ctx context.Context, t partition.TradeType) (dataset.Named, TradeStats, error) {
	spec := e.spec(t)
	files, err := e.tradeFiles(spec.Prefix)
	if err != nil {
		return dataset.Named{}, TradeStats{}, err
	}
	log := e.log.WithField("trade_type", string(t))
	if len(files) == 0 {
		log.WithField("prefix", spec.Prefix).Warn("extract: no trade files found")
	}

	ds, stats, err := ReadTrade(ctx, t, files, spec, e.src.Encoding, e.src.Dedupe, e.log)
	if err != nil {
		return dataset.Named{}, stats, err
	}
	if e.src.LatestYearOnly {
		ds, stats.OtherYears = LatestYear(ds)
		stats.Extracted = ds.Len()
	}

	metrics.RecordRow(e.job, "extracted", int64(stats.Extracted))
	metrics.RecordRow(e.job, "dropped_no_date", int64(stats.DroppedNoDate))
	metrics.RecordRow(e.job, "duplicates", int64(stats.Duplicates))

	log.WithFields(logger.Fields{
		"files":           stats.Files,
		"rows":            stats.Extracted,
		"dropped_no_date": stats.DroppedNoDate,
		"bad_date":        stats.DroppedBadDate,
		"bad_width":       stats.BadWidth,
		"non_numeric":     stats.NonNumeric,
		"duplicates":      stats.Duplicates,
		"other_years":     stats.OtherYears,
	}).Info("extract: trade files read")
	return ds, stats, nil
}

func (e *Extractor) spec(t partition.TradeType) config.TradeFile {
	if t == partition.Exports {
		return e.src.Exports
	}
	return e.src.Imports
}

// tradeFiles lists the .txt files of one prefix after the sample and
// file list filters.
func (e *Extractor) tradeFiles(prefix string) ([]string, error) {
	files, err := ListFiles(e.src.TradeDir, prefix, ".txt")
	if err != nil {
		return nil, err
	}
	files = FilterSample(files, e.src.Sample)
	if e.src.FileList != "" {
		names, err := ReadList(e.src.FileList)
		if err != nil {
			return nil, fmt.Errorf("extract: file list: %w", err)
		}
		files = FilterListed(files, names)
	}
	return files, nil
}
