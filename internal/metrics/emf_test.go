package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRecorderFlushOutput(t *testing.T) {
	var buf bytes.Buffer
	rec := NewWithWriter(&buf)
	rec.Dimension("EventID", "evt-42")
	rec.Count("FilesUploaded", 7)
	rec.Metric("BytesUploaded", 123456, UnitBytes)
	rec.Duration("BatchDuration", 2500*time.Millisecond)
	rec.Property("batchId", "batch-abc")
	rec.Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsDir, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	cw, ok := awsDir["CloudWatchMetrics"].([]interface{})
	if !ok || len(cw) != 1 {
		t.Fatal("expected one CloudWatchMetrics block")
	}
	block := cw[0].(map[string]interface{})
	if block["Namespace"] != Namespace {
		t.Errorf("unexpected namespace: %v", block["Namespace"])
	}
	metricsList := block["Metrics"].([]interface{})
	if len(metricsList) != 3 {
		t.Errorf("expected 3 metric definitions, got %d", len(metricsList))
	}

	if doc["EventID"] != "evt-42" {
		t.Errorf("dimension value missing, got %v", doc["EventID"])
	}
	if doc["FilesUploaded"] != float64(7) {
		t.Errorf("unexpected FilesUploaded: %v", doc["FilesUploaded"])
	}
	if doc["BatchDuration"] != float64(2500) {
		t.Errorf("expected duration in milliseconds, got %v", doc["BatchDuration"])
	}
	if doc["batchId"] != "batch-abc" {
		t.Errorf("property missing, got %v", doc["batchId"])
	}
}

func TestRecorderEmptyFlushEmitsNothing(t *testing.T) {
	var buf bytes.Buffer
	rec := NewWithWriter(&buf)
	rec.Dimension("EventID", "evt-42")
	rec.Property("batchId", "batch-abc")
	rec.Flush()
	if buf.Len() != 0 {
		t.Errorf("flush without metrics should emit nothing, got %q", buf.String())
	}
}
