package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCollector_RegistersOnce(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", "")
	b := c.Counter("x_total", "help", "")
	if a != b {
		t.Fatal("same name and labels must return the same counter")
	}
	if c.Counter("x_total", "help", `kind="y"`) == a {
		t.Fatal("different labels must return a different counter")
	}
}

func TestCounterAndGauge_Concurrent(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("hits_total", "hits", "")
	g := c.Gauge("open", "open things", "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctr.Inc()
			g.Inc()
			g.Dec()
		}()
	}
	wg.Wait()
	ctr.Add(5)

	if ctr.Value() != 55 {
		t.Errorf("counter = %d, want 55", ctr.Value())
	}
	if g.Value() != 0 {
		t.Errorf("gauge = %d, want 0", g.Value())
	}
}

func TestWrite_PrometheusText(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "B things", `kind="pdf"`).Add(3)
	c.Counter("a_total", "A things", "").Inc()
	c.Gauge("chunks", "Chunks held", "").Set(42)
	h := c.Histogram("latency_seconds", "Latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	var sb strings.Builder
	if err := c.Write(&sb); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"# TYPE a_total counter\na_total 1\n",
		`b_total{kind="pdf"} 3`,
		"# TYPE chunks gauge\nchunks 42\n",
		`latency_seconds_bucket{le="0.1"} 1`,
		`latency_seconds_bucket{le="1"} 2`,
		"latency_seconds_count 3\n",
		"latency_seconds_sum 3.550000\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "a_total") > strings.Index(out, "b_total") {
		t.Error("counters are not sorted by name")
	}
}
