// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/cart_position/internal/config"
)

const (
	publishTimeout = 2 * time.Second
	connectTimeout = 30 * time.Second
)

// NewClientOptions builds paho options from the shared config: broker,
// credentials and TLS settings. clientID picks which tool is connecting.
func NewClientOptions(cfg *config.Config, clientID string) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.MQTTUser != "" {
		opts.SetUsername(cfg.MQTTUser)
		opts.SetPassword(cfg.MQTTPass)
	}

	if cfg.MQTTCAFile != "" || cfg.MQTTInsecureSkipVerify {
		tlsCfg := &tls.Config{InsecureSkipVerify: cfg.MQTTInsecureSkipVerify}
		if cfg.MQTTCAFile != "" {
			pem, err := os.ReadFile(cfg.MQTTCAFile)
			if err != nil {
				return nil, fmt.Errorf("read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("MQTT CA file %s: no certificates found", cfg.MQTTCAFile)
			}
			tlsCfg.RootCAs = pool
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	return opts, nil
}

// Connect creates a client and waits for the first connection.
func Connect(cfg *config.Config, clientID string) (mqtt.Client, error) {
	opts, err := NewClientOptions(cfg, clientID)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	if err := waitConnected(client, cfg.MQTTBroker, connectTimeout); err != nil {
		return nil, err
	}
	return client, nil
}

// waitConnected starts the connection and waits up to timeout for it. With
// ConnectRetry the token only completes once connected, so on timeout the
// client is disconnected to stop the retry loop.
func waitConnected(client mqtt.Client, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("MQTT connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connect to %s: %w", broker, err)
	}
	return nil
}

// MQTTSink publishes reports as retained QoS 0 messages on one topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(client mqtt.Client, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: topic}
}

func (s *MQTTSink) Publish(p Position) error {
	payload, err := p.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	token := s.client.Publish(s.topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish (%s): timed out", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish (%s): %w", s.topic, err)
	}
	return nil
}
