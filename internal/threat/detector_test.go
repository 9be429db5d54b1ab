package threat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/strukta/bastion/internal/logger"
)

func newTestDetector(cfg Config) *Detector {
	if cfg.Window == 0 {
		cfg.Window = 5 * time.Minute
	}
	d := NewDetector(cfg, logger.Nop())
	return d
}

func TestBruteForceFiresOnThresholdNotBefore(t *testing.T) {
	d := newTestDetector(Config{Threshold: 5})
	defer d.Close()

	signal := Signal{SourceIP: "10.0.0.5", LoginFailed: true}

	for i := 1; i <= 4; i++ {
		if got := d.Detect(signal); len(got) != 0 {
			t.Fatalf("attempt %d should not trip, got %+v", i, got)
		}
	}

	got := d.Detect(signal)
	if len(got) != 1 || got[0].Type != IndicatorBruteForce {
		t.Fatalf("5th attempt should trip brute force, got %+v", got)
	}
	if got[0].Count != 5 {
		t.Errorf("count = %d, want 5", got[0].Count)
	}
	if !got[0].Block {
		t.Error("brute force indicator should recommend a block")
	}
	if got[0].Confidence < 0.6 || got[0].Confidence > 1.0 {
		t.Errorf("confidence out of range: %f", got[0].Confidence)
	}
}

func TestBruteForceWindowSlides(t *testing.T) {
	d := newTestDetector(Config{Threshold: 5, Window: time.Minute})
	defer d.Close()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := base
	d.SetClock(func() time.Time { return clock })

	signal := Signal{SourceIP: "10.0.0.9", LoginFailed: true}
	for i := 0; i < 4; i++ {
		d.Detect(signal)
	}

	// The earlier failures age out of the window before the 5th.
	clock = base.Add(2 * time.Minute)
	if got := d.Detect(signal); len(got) != 0 {
		t.Fatalf("aged-out failures must not count, got %+v", got)
	}
}

func TestLoginStormScenario(t *testing.T) {
	d := newTestDetector(Config{Threshold: 5})
	defer d.Close()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := base
	d.SetClock(func() time.Time { return clock })

	failed := Signal{SourceIP: "10.0.0.5", LoginFailed: true}
	for i := 0; i < 6; i++ {
		clock = base.Add(time.Duration(i) * 10 * time.Second)
		d.Detect(failed)
	}

	active := d.ActiveIndicators("10.0.0.5")
	if len(active) != 1 || active[0].Type != IndicatorBruteForce {
		t.Fatalf("expected an active brute force indicator, got %+v", active)
	}

	// A subsequent successful login does not clear the indicator.
	clock = base.Add(70 * time.Second)
	d.Detect(Signal{SourceIP: "10.0.0.5"})
	if active := d.ActiveIndicators("10.0.0.5"); len(active) != 1 {
		t.Fatalf("success must not clear the indicator, got %+v", active)
	}

	// It lapses only after 2x the window with no new matches.
	clock = base.Add(11 * time.Minute)
	if active := d.ActiveIndicators("10.0.0.5"); len(active) != 0 {
		t.Fatalf("indicator should expire after 2x window, got %+v", active)
	}
}

func TestInjectionDetection(t *testing.T) {
	d := newTestDetector(Config{})
	defer d.Close()

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"union select", "id=1 UNION SELECT username, password FROM users", true},
		{"quoted or", `name=' OR '1'='1`, true},
		{"stacked drop", "q=x; DROP TABLE inspections", true},
		{"script tag", `comment=<script>alert(1)</script>`, true},
		{"event handler", `bio=<img onerror=steal()>`, true},
		{"clean payload", "building=riverside-tower&floor=3", false},
		{"empty payload", "", false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := Signal{SourceIP: fmt.Sprintf("192.0.2.%d", i+1), Payload: tt.payload}
			got := d.Detect(signal)
			matched := false
			for _, ind := range got {
				if ind.Type == IndicatorInjection {
					matched = true
					if ind.Confidence < 0.7 {
						t.Errorf("injection confidence %f below floor", ind.Confidence)
					}
				}
			}
			if matched != tt.want {
				t.Errorf("payload %q matched=%v, want %v", tt.payload, matched, tt.want)
			}
		})
	}
}

func TestSuspiciousAgentDetection(t *testing.T) {
	d := newTestDetector(Config{})
	defer d.Close()

	got := d.Detect(Signal{SourceIP: "198.51.100.7", UserAgent: "sqlmap/1.7#stable"})
	if len(got) != 1 || got[0].Type != IndicatorSuspiciousAgent {
		t.Fatalf("expected suspicious agent indicator, got %+v", got)
	}

	got = d.Detect(Signal{SourceIP: "198.51.100.8", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
	if len(got) != 0 {
		t.Fatalf("normal agent must not trip, got %+v", got)
	}
}

func TestGeoAnomalyDetection(t *testing.T) {
	resolver := StaticGeoResolver{"198.18.0.1": "NL"}
	d := newTestDetector(Config{Geo: resolver, BaselineSpan: time.Hour})
	defer d.Close()

	// One source whose resolved country flips inside the baseline span.
	if got := d.Detect(Signal{SourceIP: "198.18.0.1"}); len(got) != 0 {
		t.Fatalf("first sighting establishes baseline, got %+v", got)
	}
	resolver["198.18.0.1"] = "BR"
	got := d.Detect(Signal{SourceIP: "198.18.0.1"})
	if len(got) != 1 || got[0].Type != IndicatorGeoAnomaly {
		t.Fatalf("country flip should trip geo anomaly, got %+v", got)
	}
	if got[0].Confidence != 0.6 {
		t.Errorf("geo confidence = %f, want 0.6", got[0].Confidence)
	}
}

func TestGeoAllowedCountriesList(t *testing.T) {
	resolver := StaticGeoResolver{
		"198.18.0.1": "NL",
		"198.18.0.2": "BR",
	}
	d := newTestDetector(Config{Geo: resolver, AllowedCountries: []string{"NL", "DE"}})
	defer d.Close()

	if got := d.Detect(Signal{SourceIP: "198.18.0.1"}); len(got) != 0 {
		t.Fatalf("listed country should pass, got %+v", got)
	}
	got := d.Detect(Signal{SourceIP: "198.18.0.2"})
	if len(got) != 1 || got[0].Type != IndicatorGeoAnomaly {
		t.Fatalf("unlisted country should trip geo anomaly, got %+v", got)
	}
	if got[0].Block {
		t.Error("geo anomaly must stay advisory")
	}
}

func TestGeoSkippedWithoutCountry(t *testing.T) {
	d := newTestDetector(Config{AllowedCountries: []string{"NL"}})
	defer d.Close()

	for i := 0; i < 3; i++ {
		if got := d.Detect(Signal{SourceIP: "203.0.113.99"}); len(got) != 0 {
			t.Fatalf("no resolver and no caller country must skip geo checks, got %+v", got)
		}
	}
}

func TestGeoCallerSuppliedCountry(t *testing.T) {
	d := newTestDetector(Config{BaselineSpan: time.Hour})
	defer d.Close()

	// No resolver wired; the caller resolved the country upstream.
	if got := d.Detect(Signal{SourceIP: "203.0.113.99", Country: "NL"}); len(got) != 0 {
		t.Fatalf("first sighting establishes baseline, got %+v", got)
	}
	got := d.Detect(Signal{SourceIP: "203.0.113.99", Country: "BR"})
	if len(got) != 1 || got[0].Type != IndicatorGeoAnomaly {
		t.Fatalf("caller-supplied country flip should trip geo anomaly, got %+v", got)
	}
}

func TestEvictAgesOutGeoBaseline(t *testing.T) {
	resolver := StaticGeoResolver{"198.18.0.1": "NL"}
	d := newTestDetector(Config{Geo: resolver, BaselineSpan: time.Hour})
	defer d.Close()

	base := time.Now()
	d.SetClock(func() time.Time { return base })
	d.Detect(Signal{SourceIP: "198.18.0.1"})

	// Within the baseline span the state stays to support flip checks.
	d.evict()
	if got := sourceCount(d); got != 1 {
		t.Fatalf("state with a fresh baseline evicted, sources = %d", got)
	}

	d.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	d.evict()
	if got := sourceCount(d); got != 0 {
		t.Fatalf("stale baseline must not pin the state, sources = %d", got)
	}
}

func sourceCount(d *Detector) int {
	total := 0
	for _, sh := range d.shards {
		sh.mu.Lock()
		total += len(sh.sources)
		sh.mu.Unlock()
	}
	return total
}

func TestConcurrentDetectSameKey(t *testing.T) {
	d := newTestDetector(Config{Threshold: 5})
	defer d.Close()

	const workers = 20
	const perWorker = 5
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				d.Detect(Signal{SourceIP: "10.1.1.1", LoginFailed: true})
			}
		}()
	}
	wg.Wait()

	active := d.ActiveIndicators("10.1.1.1")
	if len(active) != 1 {
		t.Fatalf("expected one brute force indicator, got %+v", active)
	}
	if active[0].Count != workers*perWorker {
		t.Errorf("count = %d, want %d (updates must be serialized per key)",
			active[0].Count, workers*perWorker)
	}
}
