package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollector_RecordsWhenEnabled(t *testing.T) {
	c := NewCollector(Config{Enabled: true}, prometheus.NewRegistry())

	c.RecordRequest("ollama", "llama-3", "success", 250*time.Millisecond)
	c.RecordCoalesce("leader")
	c.RecordCoalesce("follower")
	c.RecordCoalesce("follower")
	c.RecordUpstreamCall("ollama", "success")
	c.RecordStreamEvent("delta")
	c.RecordPacerRejection("ollama", "queue_full")
	c.RecordAssembly("cache")
	c.RecordTurnsAppended(2)

	families := gather(t, c)

	if f, ok := families["ganymede_requests_total"]; !ok || f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Error("Expected 1 request recorded")
	}

	coalesced := families["ganymede_coalesced_requests_total"]
	if coalesced == nil || len(coalesced.GetMetric()) != 2 {
		t.Fatal("Expected leader and follower series")
	}

	if f, ok := families["ganymede_turns_appended_total"]; !ok || f.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Error("Expected 2 turns appended")
	}
}

func TestCollector_DisabledRecordsNothing(t *testing.T) {
	c := NewCollector(Config{Enabled: false}, prometheus.NewRegistry())

	c.RecordRequest("ollama", "llama-3", "success", time.Second)
	c.RecordCoalesce("leader")

	families := gather(t, c)
	for name, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter().GetValue() != 0 {
				t.Errorf("Metric %s recorded while disabled", name)
			}
		}
	}
}

func TestCollector_CustomNamespace(t *testing.T) {
	c := NewCollector(Config{Enabled: true, Namespace: "custom"}, prometheus.NewRegistry())
	c.RecordStreamEvent("meta")

	families := gather(t, c)
	if _, ok := families["custom_stream_events_total"]; !ok {
		t.Error("Expected custom namespace prefix")
	}
}
