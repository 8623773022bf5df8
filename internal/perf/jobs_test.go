package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	rootjobs "github.com/karoseri/quotedesk/jobs"
	jobmetrics "github.com/karoseri/quotedesk/internal/jobs"
)

func TestFollowUpScanThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	for i := 0; i < 40; i++ {
		tracker := metrics.Track(rootjobs.TaskFollowUpScan)
		time.Sleep(2 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending scan tracker: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		tracker := metrics.Track(rootjobs.TaskImageCleanup)
		time.Sleep(5 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending cleanup tracker: %v", err)
		}
	}

	// A storage outage during the scan must surface as a failure sample.
	for i := 0; i < 2; i++ {
		tracker := metrics.Track(rootjobs.TaskFollowUpScan)
		if err := tracker.End(errors.New("db timeout")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}
	metrics.AddReminders(12)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "quotedesk_jobs_total", map[string]string{"job": rootjobs.TaskFollowUpScan, "status": "success"})
	failure := metricValue(t, families, "quotedesk_jobs_total", map[string]string{"job": rootjobs.TaskFollowUpScan, "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("follow-up scan success ratio too low: %f", ratio)
	}
	if reminders := metricValue(t, families, "quotedesk_followup_reminders_total", nil); reminders != 12 {
		t.Fatalf("expected 12 reminders, got %f", reminders)
	}

	if mean := histogramMean(t, families, "quotedesk_job_duration_seconds", map[string]string{"job": rootjobs.TaskImageCleanup}); mean > 1.0 {
		t.Fatalf("image cleanup duration above budget: %f", mean)
	}
	if mean := histogramMean(t, families, "quotedesk_job_duration_seconds", map[string]string{"job": rootjobs.TaskFollowUpScan}); mean > 0.5 {
		t.Fatalf("follow-up scan duration above budget: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for key, want := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = lp.GetValue() == want
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
