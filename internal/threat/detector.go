// Package threat implements windowed, per-source threat detection:
// brute-force counting, injection and scanner signatures, and optional
// geo anomaly checks.
package threat

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/metrics"
)

const shardCount = 32

// Config holds detection thresholds.
type Config struct {
	// Window is the sliding window for brute-force counting.
	Window time.Duration
	// Threshold is the failed-login count that trips an indicator.
	Threshold int
	// Geo resolves source countries; nil disables geo anomaly checks.
	Geo GeoResolver
	// AllowedCountries, when non-empty, flags any resolved country
	// outside the list regardless of baseline.
	AllowedCountries []string
	// BaselineSpan is how recently the previous country must have been
	// seen for a change to count as anomalous.
	BaselineSpan time.Duration
}

type sourceState struct {
	failures   []time.Time
	indicators map[IndicatorType]*Indicator
	country    string
	countrySeen time.Time
}

type shard struct {
	mu      sync.Mutex
	sources map[string]*sourceState
}

// Detector analyzes request signals per source key. Updates for one key
// are serialized on its shard lock; distinct keys proceed in parallel.
type Detector struct {
	cfg    Config
	log    logger.Logger
	shards [shardCount]*shard
	stop   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewDetector creates a detector and starts its eviction loop.
func NewDetector(cfg Config, log logger.Logger) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.BaselineSpan <= 0 {
		cfg.BaselineSpan = time.Hour
	}
	if log == nil {
		log = logger.GetDefault()
	}

	d := &Detector{
		cfg:  cfg,
		log:  log,
		stop: make(chan struct{}),
		now:  time.Now,
	}
	for i := range d.shards {
		d.shards[i] = &shard{sources: make(map[string]*sourceState)}
	}
	go d.evictLoop()
	return d
}

// SetClock overrides the time source. Used in tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.now = now
}

// Close stops the eviction loop.
func (d *Detector) Close() {
	d.once.Do(func() { close(d.stop) })
}

func (d *Detector) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return d.shards[h.Sum32()%shardCount]
}

// Detect runs every analyzer against the signal and returns the
// indicators that matched on this call. Synchronous and CPU-bound; the
// caller may use the result to reject the request.
func (d *Detector) Detect(signal Signal) []Indicator {
	key := signal.Key()
	if key == "" {
		return nil
	}

	sh := d.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.sources[key]
	if !ok {
		state = &sourceState{indicators: make(map[IndicatorType]*Indicator)}
		sh.sources[key] = state
	}

	now := d.now()
	var matched []Indicator

	if ind := d.checkBruteForce(state, key, signal, now); ind != nil {
		matched = append(matched, *ind)
	}
	if ind := d.checkInjection(state, key, signal, now); ind != nil {
		matched = append(matched, *ind)
	}
	if ind := d.checkAgent(state, key, signal, now); ind != nil {
		matched = append(matched, *ind)
	}
	if ind := d.checkGeo(state, key, signal, now); ind != nil {
		matched = append(matched, *ind)
	}
	return matched
}

// checkBruteForce counts failed logins in the sliding window and trips
// on the Nth failure, not before.
func (d *Detector) checkBruteForce(state *sourceState, key string, signal Signal, now time.Time) *Indicator {
	if !signal.LoginFailed {
		return nil
	}

	cutoff := now.Add(-d.cfg.Window)
	kept := state.failures[:0]
	for _, ts := range state.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	state.failures = append(kept, now)

	count := len(state.failures)
	if count < d.cfg.Threshold {
		return nil
	}

	conf := 0.6 + 0.05*float64(count-d.cfg.Threshold)
	if conf > 1.0 {
		conf = 1.0
	}
	return d.upsert(state, key, IndicatorBruteForce, conf, count, true, now)
}

func (d *Detector) checkInjection(state *sourceState, key string, signal Signal, now time.Time) *Indicator {
	hits := matchInjection(signal.Payload)
	if hits == 0 {
		return nil
	}
	conf := 0.7 + 0.1*float64(hits-1)
	if conf > 1.0 {
		conf = 1.0
	}
	return d.upsert(state, key, IndicatorInjection, conf, 0, true, now)
}

func (d *Detector) checkAgent(state *sourceState, key string, signal Signal, now time.Time) *Indicator {
	if !matchAgent(signal.UserAgent) {
		return nil
	}
	return d.upsert(state, key, IndicatorSuspiciousAgent, 0.8, 0, false, now)
}

// checkGeo compares the source country against the baseline established
// for this key. A lower-confidence advisory signal, never a hard gate.
func (d *Detector) checkGeo(state *sourceState, key string, signal Signal, now time.Time) *Indicator {
	// A resolver takes precedence over a caller-supplied country.
	country := signal.Country
	if d.cfg.Geo != nil && signal.SourceIP != "" {
		if resolved, ok := d.cfg.Geo.Country(signal.SourceIP); ok {
			country = resolved
		}
	}
	if country == "" {
		return nil
	}

	previous, previousSeen := state.country, state.countrySeen
	state.country = country
	state.countrySeen = now

	if len(d.cfg.AllowedCountries) > 0 && !d.countryAllowed(country) {
		return d.upsert(state, key, IndicatorGeoAnomaly, 0.75, 0, false, now)
	}

	if previous == "" || previous == country {
		return nil
	}
	if now.Sub(previousSeen) > d.cfg.BaselineSpan {
		return nil
	}
	return d.upsert(state, key, IndicatorGeoAnomaly, 0.6, 0, false, now)
}

func (d *Detector) countryAllowed(country string) bool {
	for _, c := range d.cfg.AllowedCountries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// upsert creates or refreshes the indicator for (key, type). Confidence
// grows deterministically with repetition and never decreases.
func (d *Detector) upsert(state *sourceState, key string, t IndicatorType, conf float64, count int, block bool, now time.Time) *Indicator {
	ind, exists := state.indicators[t]
	if !exists {
		ind = &Indicator{
			Type:      t,
			SourceKey: key,
			FirstSeen: now,
		}
		state.indicators[t] = ind
		metrics.ThreatsDetectedTotal.WithLabelValues(string(t)).Inc()
		d.log.Warn("threat indicator raised",
			logger.String("type", string(t)),
			logger.String("source", key),
			logger.Float64("confidence", conf))
	}

	ind.LastSeen = now
	if count > 0 {
		ind.Count = count
	} else {
		ind.Count++
	}
	repeated := conf + 0.05*float64(ind.Count-1)
	if repeated > 1.0 {
		repeated = 1.0
	}
	if repeated > ind.Confidence {
		ind.Confidence = repeated
	}
	ind.Block = ind.Block || block

	snapshot := *ind
	return &snapshot
}

// ActiveIndicators returns the live indicators for a source key.
// Indicators expire 2x the window after their last match; success
// events never clear them early.
func (d *Detector) ActiveIndicators(key string) []Indicator {
	sh := d.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.sources[key]
	if !ok {
		return nil
	}

	cutoff := d.now().Add(-2 * d.cfg.Window)
	var out []Indicator
	for _, ind := range state.indicators {
		if ind.LastSeen.After(cutoff) {
			out = append(out, *ind)
		}
	}
	return out
}

// All returns every live indicator across all sources.
func (d *Detector) All() []Indicator {
	cutoff := d.now().Add(-2 * d.cfg.Window)
	var out []Indicator
	for _, sh := range d.shards {
		sh.mu.Lock()
		for _, state := range sh.sources {
			for _, ind := range state.indicators {
				if ind.LastSeen.After(cutoff) {
					out = append(out, *ind)
				}
			}
		}
		sh.mu.Unlock()
	}
	return out
}

func (d *Detector) evictLoop() {
	ticker := time.NewTicker(d.cfg.Window)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.evict()
		}
	}
}

// evict drops indicators idle for 2x the window and source states with
// nothing left to track.
func (d *Detector) evict() {
	cutoff := d.now().Add(-2 * d.cfg.Window)
	failureCutoff := d.now().Add(-d.cfg.Window)
	baselineCutoff := d.now().Add(-d.cfg.BaselineSpan)
	live := 0

	for _, sh := range d.shards {
		sh.mu.Lock()
		for key, state := range sh.sources {
			for t, ind := range state.indicators {
				if !ind.LastSeen.After(cutoff) {
					delete(state.indicators, t)
				}
			}
			kept := state.failures[:0]
			for _, ts := range state.failures {
				if ts.After(failureCutoff) {
					kept = append(kept, ts)
				}
			}
			state.failures = kept

			// A stale country is no longer a baseline worth keeping
			// the state alive for.
			if state.country != "" && !state.countrySeen.After(baselineCutoff) {
				state.country = ""
			}

			if len(state.indicators) == 0 && len(state.failures) == 0 && state.country == "" {
				delete(sh.sources, key)
				continue
			}
			live += len(state.indicators)
		}
		sh.mu.Unlock()
	}
	metrics.ActiveIndicators.Set(float64(live))
}
