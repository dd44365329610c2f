package report

import (
	"log"
	"strconv"
	"time"

	"github.com/golang/geo/r3"
)

// Position is the telemetry payload: {"x":0.0000,"y":0.0000,"z":0.0000}.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FromVector converts an estimator position (m) to a report.
func FromVector(v r3.Vector) Position {
	return Position{X: v.X, Y: v.Y, Z: v.Z}
}

// MarshalJSON keeps the field order x, y, z and exactly four decimals so
// existing consumers of the cart firmware can parse it unchanged.
func (p Position) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 64)
	b = append(b, `{"x":`...)
	b = strconv.AppendFloat(b, p.X, 'f', 4, 64)
	b = append(b, `,"y":`...)
	b = strconv.AppendFloat(b, p.Y, 'f', 4, 64)
	b = append(b, `,"z":`...)
	b = strconv.AppendFloat(b, p.Z, 'f', 4, 64)
	b = append(b, '}')
	return b, nil
}

// Sink receives position reports. Implementations must not block for long:
// they run on the control loop.
type Sink interface {
	Publish(p Position) error
}

// LogSink writes every report to the standard logger.
type LogSink struct{}

func (LogSink) Publish(p Position) error {
	payload, err := p.MarshalJSON()
	if err != nil {
		return err
	}
	log.Printf("position: %s", payload)
	return nil
}

// Reporter rate-limits reports to one per Interval. Times must come from
// time.Now so comparisons use the monotonic clock.
type Reporter struct {
	interval time.Duration
	sinks    []Sink
	last     time.Time
}

func NewReporter(interval time.Duration, sinks ...Sink) *Reporter {
	return &Reporter{interval: interval, sinks: sinks}
}

// Start sets the reference time; the first report is due one full
// interval later.
func (r *Reporter) Start(now time.Time) {
	r.last = now
}

// Offer publishes p to every sink when more than one interval has passed
// since the last report. Sink errors are logged and dropped. It reports
// whether p was emitted.
func (r *Reporter) Offer(now time.Time, p Position) bool {
	if now.Sub(r.last) <= r.interval {
		return false
	}
	r.last = now
	for _, s := range r.sinks {
		if err := s.Publish(p); err != nil {
			log.Printf("report: publish error: %v", err)
		}
	}
	return true
}
