package datadog

import (
	"reflect"
	"testing"

	"tradeload/internal/metrics"
)

type call struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	calls  []call
	closed bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.calls = append(f.calls, call{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, _ float64) error {
	f.calls = append(f.calls, call{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("NewBackend(empty) error = nil; want error")
	}
}

func TestBackend_ForwardsWithSortedTags(t *testing.T) {
	fc := &fakeClient{}
	b := &Backend{client: fc}

	b.IncCounter(metrics.PartitionsTotal, 2, metrics.Labels{"state": "new", "job": "tradeload"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "delete", "status": "success"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	want := []call{
		{"count", metrics.PartitionsTotal, 2, []string{"job:tradeload", "state:new"}},
		{"histogram", metrics.StepDuration, 0.25, []string{"status:success", "step:delete"}},
	}
	if !reflect.DeepEqual(fc.calls, want) {
		t.Fatalf("calls = %+v; want %+v", fc.calls, want)
	}
	if !fc.closed {
		t.Fatal("Flush did not close the client")
	}
}

func TestBackend_NilClient(t *testing.T) {
	b := &Backend{}
	b.IncCounter("x", 1, nil)
	b.ObserveHistogram("x", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v; want nil", err)
	}
}

func TestLabelsToTags_Empty(t *testing.T) {
	if got := labelsToTags(nil); got != nil {
		t.Fatalf("labelsToTags(nil) = %v; want nil", got)
	}
}
