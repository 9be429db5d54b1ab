package threat

import "time"

// IndicatorType names a detection pattern.
type IndicatorType string

const (
	IndicatorBruteForce      IndicatorType = "brute_force"
	IndicatorInjection       IndicatorType = "injection"
	IndicatorSuspiciousAgent IndicatorType = "suspicious_agent"
	IndicatorGeoAnomaly      IndicatorType = "geo_anomaly"
)

// Indicator is a derived threat record for one source key. It is
// updated in place while its window is active and evicted after 2x the
// window passes with no new matches.
type Indicator struct {
	Type       IndicatorType `json:"type"`
	SourceKey  string        `json:"source_key"`
	Confidence float64       `json:"confidence"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	Count      int           `json:"count"`
	// Block recommends the caller reject traffic from the source.
	Block bool `json:"block"`
}

// Signal carries the raw request metadata the detector analyzes.
type Signal struct {
	SourceIP    string
	ActorID     string
	UserAgent   string
	Payload     string
	Country     string // resolved by the caller or left empty
	LoginFailed bool   // a failed authentication attempt
}

// Key returns the source identity the detector tracks: IP when known,
// otherwise the actor.
func (s Signal) Key() string {
	if s.SourceIP != "" {
		return s.SourceIP
	}
	return s.ActorID
}

// GeoResolver maps a source IP to an ISO country code. Geo anomaly
// detection is best effort: a nil resolver disables it entirely.
type GeoResolver interface {
	Country(ip string) (string, bool)
}

// StaticGeoResolver is a fixed in-memory IP-to-country table.
type StaticGeoResolver map[string]string

func (r StaticGeoResolver) Country(ip string) (string, bool) {
	c, ok := r[ip]
	return c, ok
}
