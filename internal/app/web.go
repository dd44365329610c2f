package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/report"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const wsWriteTimeout = 5 * time.Second

// positionHub keeps the latest position and fans updates out to websocket
// clients. A client that cannot keep up misses updates instead of blocking
// the MQTT callback.
type positionHub struct {
	mu      sync.RWMutex
	last    report.Position
	have    bool
	clients map[chan []byte]struct{}
}

func newPositionHub() *positionHub {
	return &positionHub{clients: make(map[chan []byte]struct{})}
}

func (h *positionHub) update(p report.Position) {
	payload, _ := p.MarshalJSON()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	h.have = true
	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *positionHub) latest() (report.Position, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.have
}

func (h *positionHub) subscribe() chan []byte {
	ch := make(chan []byte, 8)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *positionHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *positionHub) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var p report.Position
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		log.Printf("web: MQTT payload unmarshal error: %v", err)
		return
	}
	h.update(p)
}

// newWebHandler serves the position API, the live websocket stream and the
// static pages in staticDir.
func newWebHandler(h *positionHub, staticDir string) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest position
	mux.HandleFunc("/api/position", func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.latest()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// Live stream: the latest position on connect, then every update
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ch := h.subscribe()
		defer h.unsubscribe(ch)

		// Reader goroutine detects the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if p, ok := h.latest(); ok {
			payload, _ := p.MarshalJSON()
			select {
			case ch <- payload:
			default:
			}
		}

		for {
			select {
			case <-closed:
				return
			case payload := <-ch:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Printf("web: websocket write error: %v", err)
					return
				}
			}
		}
	})

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return mux
}

func RunWeb() error {
	cfg := config.Get()
	hub := newPositionHub()

	client, err := report.Connect(cfg, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicPosition, 0, hub.handleMessage)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to MQTT topic %s", cfg.TopicPosition)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, newWebHandler(hub, "web"))
}
