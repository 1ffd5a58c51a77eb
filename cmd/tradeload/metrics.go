package main

import (
	"tradeload/internal/config"
	"tradeload/internal/logger"
	"tradeload/internal/metrics"
	"tradeload/internal/metrics/datadog"
	"tradeload/internal/metrics/prompush"
)

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it at exit. Backend errors disable metrics.
func setupMetrics(cfg config.Metrics, job string, log logger.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.Backend {
	case "prompush":
		var pb *prompush.Backend
		if pb, err = prompush.NewBackend(job, cfg.PushgatewayURL); err == nil {
			b = pb
		}
	case "datadog":
		var db *datadog.Backend
		if db, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.StatsdAddr,
			Namespace:  cfg.Namespace,
			GlobalTags: []string{"job:" + job},
		}); err == nil {
			b = db
		}
	default:
		log.Debugf("metrics: disabled (backend=%q)", cfg.Backend)
		return func() {}
	}
	if err != nil {
		log.Warnf("metrics: failed to init %s backend: %v; using nop", cfg.Backend, err)
		return func() {}
	}

	log.Infof("metrics: backend=%s job=%s", cfg.Backend, job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warnf("metrics: flush error: %v", err)
		}
	}
}
