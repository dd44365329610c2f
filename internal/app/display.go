package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/report"
)

// displayData holds the latest position for the OLED.
type displayData struct {
	mu       sync.RWMutex
	pos      report.Position
	havePos  bool
	received time.Time
}

func (d *displayData) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var p report.Position
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		log.Printf("display: position unmarshal error: %v", err)
		return
	}
	d.mu.Lock()
	d.pos = p
	d.havePos = true
	d.received = time.Now()
	d.mu.Unlock()
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	// The driver always talks to 0x3C; config.validate rejects anything else.
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	client, err := report.Connect(cfg, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicPosition, 0, data.handleMessage)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicPosition)

	// A report older than this is flagged as stale on screen.
	staleAfter := 3 * time.Duration(cfg.ReportInterval) * time.Millisecond

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for now := range ticker.C {
		data.mu.RLock()
		pos, have, received := data.pos, data.havePos, data.received
		data.mu.RUnlock()

		stale := have && now.Sub(received) > staleAfter
		if err := dev.Draw(dev.Bounds(), renderPosition(pos, have, stale), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// renderPosition draws one 128x64 frame with the X/Y/Z position in meters.
func renderPosition(p report.Position, haveData, stale bool) *image1bit.VerticalLSB {
	img, drawer := newFrame()

	if !haveData {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Cart position"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("X: %8.3f m", p.X)))

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("Y: %8.3f m", p.Y)))

	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte(fmt.Sprintf("Z: %8.3f m", p.Z)))

	if stale {
		drawer.Dot = fixed.P(0, 56)
		drawer.DrawBytes([]byte("STALE"))
	}
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newFrame()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Cart Position"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Waiting for"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("producer"))

	return img
}
