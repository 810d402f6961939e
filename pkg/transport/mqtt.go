//go:build cgo
// +build cgo

// Package transport publishes dart-pipeline results over MQTT and feeds
// live calibration updates back into the pipeline: triangulated board
// coordinates and frame-rate telemetry as JSON, per-module debug images
// as JPEG, and a subscription for per-camera calibration updates.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gocv.io/x/gocv"

	"github.com/dartvision/corepipeline/pkg/dart"
	"github.com/dartvision/corepipeline/pkg/vision"
)

// Config holds the MQTT broker connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// Client wraps a paho.mqtt.golang client with the connect/publish/
// subscribe shape used throughout this module.
type Client struct {
	client mqtt.Client
}

// NewClient connects to the configured broker with auto-reconnect,
// clean-session, and keep-alive enabled.
func NewClient(cfg Config) (*Client, error) {
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("transport: mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("transport: mqtt connect error: %w", err)
	}

	return &Client{client: cli}, nil
}

// Publish sends payload to topic at the given QoS.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for every message arriving on topic.
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects the underlying client, if connected.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// boardCoordinatePayload is the wire shape of the board_coordinate
// topic.
type boardCoordinatePayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// frameRatePayload is the wire shape of the frame_rate topic.
type frameRatePayload struct {
	FR float64   `json:"fr"`
	S  []float64 `json:"s"`
	R  []float64 `json:"r"`
}

// ResultSink publishes BoardCoordinate results, frame-rate telemetry,
// and debug images, and feeds subscribed calibration updates into a
// MetaDataWriter.
type ResultSink struct {
	client *Client
}

// NewResultSink wraps an already-connected Client.
func NewResultSink(client *Client) *ResultSink {
	return &ResultSink{client: client}
}

// PublishBoardCoordinate publishes a triangulated board coordinate.
func (s *ResultSink) PublishBoardCoordinate(c vision.BoardCoordinate) error {
	payload, err := json.Marshal(boardCoordinatePayload{X: c.X, Y: c.Y})
	if err != nil {
		return fmt.Errorf("transport: marshal board_coordinate: %w", err)
	}
	if err := s.client.Publish("board_coordinate", 1, false, payload); err != nil {
		return fmt.Errorf("transport: publish board_coordinate: %w", err)
	}
	return nil
}

// PublishFrameRate publishes the current pipeline frame rate, alongside
// per-camera counts of frames sent (s) and received (r), one entry per
// camera in the order given.
func (s *ResultSink) PublishFrameRate(fr float64, sent, received []float64) error {
	payload, err := json.Marshal(frameRatePayload{FR: fr, S: sent, R: received})
	if err != nil {
		return fmt.Errorf("transport: marshal frame_rate: %w", err)
	}
	if err := s.client.Publish("frame_rate", 0, false, payload); err != nil {
		return fmt.Errorf("transport: publish frame_rate: %w", err)
	}
	return nil
}

// PublishDebugFrame JPEG-encodes and publishes one debug frame under
// "<module>/<cam>".
func (s *ResultSink) PublishDebugFrame(module string, f vision.Frame) error {
	buf, err := gocv.IMEncode(".jpg", f.Mat)
	if err != nil {
		return fmt.Errorf("transport: encode debug frame: %w", err)
	}
	defer buf.Close()

	topic := fmt.Sprintf("%s/%s", module, f.Info.Name())
	if err := s.client.Publish(topic, 0, false, buf.GetBytes()); err != nil {
		return fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	return nil
}

// PublishDebugMultiFrame publishes every frame of a debug MultiFrame
// under its own module topic.
func (s *ResultSink) PublishDebugMultiFrame(module string, mf vision.MultiFrame) {
	for _, f := range mf.Frames {
		if err := s.PublishDebugFrame(module, f); err != nil {
			log.Printf("transport: %s: %v", module, err)
		}
	}
}

// CalibrationFeed subscribes to calibration/data/new_calibration/<cam>
// for every configured camera and hands each raw JSON payload to a
// delivery callback.
type CalibrationFeed struct {
	client *Client
}

// NewCalibrationFeed wraps an already-connected Client.
func NewCalibrationFeed(client *Client) *CalibrationFeed {
	return &CalibrationFeed{client: client}
}

// Subscribe registers deliver as the handler for every configured
// camera's calibration-update topic. deliver is expected to enqueue the
// payload onto a MetaDataWriter's "config_in" input, e.g.
// writer.Input("config_in") followed by (*pipeline.InputPort).Deliver.
func (f *CalibrationFeed) Subscribe(camIDs []string, deliver func(dart.CalibrationUpdate)) error {
	for _, cam := range camIDs {
		topic := fmt.Sprintf("calibration/data/new_calibration/%s", cam)
		if err := f.client.Subscribe(topic, 1, func(_ string, payload []byte) {
			deliver(dart.CalibrationUpdate(payload))
		}); err != nil {
			return fmt.Errorf("transport: subscribe %s: %w", topic, err)
		}
	}
	return nil
}
