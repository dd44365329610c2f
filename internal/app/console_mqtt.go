package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/cart_position/internal/config"
	"github.com/relabs-tech/cart_position/internal/report"
)

// positionPrinter formats every position message as one console line.
func positionPrinter(w io.Writer) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var p report.Position
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: position unmarshal error: %v", err)
			return
		}
		fmt.Fprintf(w, "[POS]  X=%9.4f  Y=%9.4f  Z=%9.4f\n", p.X, p.Y, p.Z)
	}
}

func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := report.Connect(cfg, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicPosition, 0, positionPrinter(os.Stdout))
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicPosition)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
