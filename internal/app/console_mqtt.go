package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/relabs-tech/heading_viewer/internal/config"
)

// headingConsole keeps the latest heading received from MQTT.
type headingConsole struct {
	mu       sync.Mutex
	last     HeadingMessage
	have     bool
	received uint64
}

func (c *headingConsole) handle(_ mqtt.Client, msg mqtt.Message) {
	var m HeadingMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("console: heading unmarshal error")
		return
	}
	c.mu.Lock()
	c.last, c.have = m, true
	c.received++
	c.mu.Unlock()
}

// print writes the latest heading to w, or a placeholder before the first.
func (c *headingConsole) print(w io.Writer) {
	c.mu.Lock()
	m, have, n := c.last, c.have, c.received
	c.mu.Unlock()

	if !have {
		fmt.Fprintln(w, "[HDG]  waiting for heading...")
		return
	}
	fmt.Fprintf(w,
		"[HDG]  %-8s HEADING=%6.2f  ROLL=%6.2f  PITCH=%6.2f  (%d msgs)\n",
		m.Scene, m.Heading, m.Pose.Roll, m.Pose.Pitch, n,
	)
}

// RunHeadingConsole subscribes to TOPIC_HEADING and prints the latest
// heading every CONSOLE_LOG_INTERVAL until SIGINT/SIGTERM.
func RunHeadingConsole(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	console := &headingConsole{}
	token := client.Subscribe(cfg.TopicHeading, 0, console.handle)
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("topic", cfg.TopicHeading).Msg("console: subscribed")

	interval := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-sigCh:
			log.Info().Msg("console: shutting down")
			return nil
		case <-ticker.C:
			console.print(os.Stdout)
		}
	}
}
