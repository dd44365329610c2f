package report

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"

	"github.com/relabs-tech/cart_position/internal/config"
)

func TestPositionJSON(t *testing.T) {
	tests := []struct {
		p    Position
		want string
	}{
		{Position{}, `{"x":0.0000,"y":0.0000,"z":0.0000}`},
		{Position{X: 1.23456, Y: -0.5, Z: 12}, `{"x":1.2346,"y":-0.5000,"z":12.0000}`},
		{FromVector(r3.Vector{X: 0.00004, Y: 3, Z: -2.71828}), `{"x":0.0000,"y":3.0000,"z":-2.7183}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.p)
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", tt.p, err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tt.p, got, tt.want)
		}

		var back Position
		if err := json.Unmarshal(got, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", got, err)
		}
		if math.Abs(back.X-tt.p.X) > 5e-5 || math.Abs(back.Z-tt.p.Z) > 5e-5 {
			t.Errorf("Unmarshal(%s) = %+v", got, back)
		}
	}
}

type recordSink struct {
	got []Position
	err error
}

func (s *recordSink) Publish(p Position) error {
	s.got = append(s.got, p)
	return s.err
}

func TestReporterCadence(t *testing.T) {
	rec := &recordSink{}
	failing := &recordSink{err: errors.New("broker down")}
	r := NewReporter(time.Second, failing, rec)

	t0 := time.Now()
	r.Start(t0)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{500 * time.Millisecond, false},
		{time.Second, false}, // strictly greater than the interval
		{time.Second + time.Millisecond, true},
		{1500 * time.Millisecond, false},
		{2001 * time.Millisecond, false},
		{2002 * time.Millisecond, true},
	}
	for i, s := range steps {
		p := Position{X: float64(i)}
		if got := r.Offer(t0.Add(s.at), p); got != s.want {
			t.Errorf("Offer at %v = %v, want %v", s.at, got, s.want)
		}
	}

	if len(rec.got) != 2 || rec.got[0].X != 2 || rec.got[1].X != 5 {
		t.Errorf("published = %+v", rec.got)
	}
	if len(failing.got) != 2 {
		t.Errorf("failing sink saw %d reports, want 2", len(failing.got))
	}
}

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeClient struct {
	mqtt.Client
	token        *fakeToken
	topic        string
	retained     bool
	payload      []byte
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return c.token }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.retained = retained
	c.payload = payload.([]byte)
	return c.token
}

func TestMQTTSink(t *testing.T) {
	c := &fakeClient{token: &fakeToken{}}
	s := NewMQTTSink(c, "cart/position")

	if err := s.Publish(Position{X: 1, Y: 2, Z: 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if c.topic != "cart/position" || !c.retained {
		t.Errorf("topic=%q retained=%v", c.topic, c.retained)
	}
	if string(c.payload) != `{"x":1.0000,"y":2.0000,"z":3.0000}` {
		t.Errorf("payload = %s", c.payload)
	}

	c.token = &fakeToken{err: errors.New("not connected")}
	if err := s.Publish(Position{}); err == nil {
		t.Error("expected publish error")
	}
	c.token = &fakeToken{timeout: true}
	if err := s.Publish(Position{}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestWaitConnected(t *testing.T) {
	tests := []struct {
		name           string
		token          *fakeToken
		wantErr        string
		wantDisconnect bool
	}{
		{"connected", &fakeToken{}, "", false},
		{"refused", &fakeToken{err: errors.New("not authorized")}, "not authorized", false},
		{"timeout stops retrying", &fakeToken{timeout: true}, "timed out", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{token: tt.token}
			err := waitConnected(c, "tcp://broker:1883", time.Millisecond)
			if tt.wantErr == "" && err != nil {
				t.Errorf("waitConnected: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Errorf("waitConnected = %v, want error containing %q", err, tt.wantErr)
			}
			if c.disconnected != tt.wantDisconnect {
				t.Errorf("disconnected = %v, want %v", c.disconnected, tt.wantDisconnect)
			}
		})
	}
}

func TestNewClientOptions(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "ssl://broker.example:8883"
	cfg.MQTTUser = "cart"
	cfg.MQTTPass = "secret"
	cfg.MQTTInsecureSkipVerify = true

	opts, err := NewClientOptions(cfg, cfg.MQTTClientIDProducer)
	if err != nil {
		t.Fatalf("NewClientOptions: %v", err)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker.example:8883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "cart-position-producer" || opts.Username != "cart" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil || !opts.TLSConfig.InsecureSkipVerify {
		t.Errorf("TLS config = %+v", opts.TLSConfig)
	}

	cfg.MQTTCAFile = "/nonexistent/ca.pem"
	if _, err := NewClientOptions(cfg, "x"); err == nil {
		t.Error("expected error for missing CA file")
	}
}
