package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-bench/internal/benchmark"
	"github.com/snarg/stt-bench/internal/metrics"
	"github.com/snarg/stt-bench/internal/wer"
)

// ErrNotConnected is returned by PublishRun while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// Client publishes finished benchmark runs to an MQTT broker.
// Implements benchmark.Publisher.
type Client struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topic: opts.Topic,
		log:   opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// PublishRun sends a summary of a finished run to {topic}/{run_id} at QoS 1.
// Alignments are left out to keep messages small; subscribers that need
// them can fetch the run over HTTP.
func (c *Client) PublishRun(ctx context.Context, run *benchmark.Run) error {
	if !c.IsConnected() {
		metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
		return ErrNotConnected
	}

	payload, err := json.Marshal(newRunMessage(run))
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	token := c.conn.Publish(c.topic+"/"+run.ID, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("mqtt publish: %w", err)
	}
	metrics.MQTTPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// runMessage is the MQTT payload for a finished run.
type runMessage struct {
	RunID           string          `json:"run_id"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Language        string          `json:"language"`
	ReferenceSource string          `json:"reference_source"`
	AudioName       string          `json:"audio_name,omitempty"`
	Error           string          `json:"error,omitempty"`
	Best            string          `json:"best,omitempty"`
	Results         []resultMessage `json:"results"`
}

type resultMessage struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Status     string     `json:"status"`
	WER        float64    `json:"wer"`
	CER        float64    `json:"cer"`
	DurationMs int64      `json:"duration_ms"`
	Stats      *wer.Stats `json:"stats,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func newRunMessage(run *benchmark.Run) runMessage {
	msg := runMessage{
		RunID:           run.ID,
		CreatedAt:       run.CreatedAt,
		FinishedAt:      run.FinishedAt,
		Language:        run.Language,
		ReferenceSource: run.ReferenceSource,
		AudioName:       run.AudioName,
		Error:           run.Error,
		Results:         make([]resultMessage, len(run.Results)),
	}
	if ranked := benchmark.Ranking(run.Results); len(ranked) > 0 {
		msg.Best = ranked[0].Provider
	}
	for i, r := range run.Results {
		msg.Results[i] = resultMessage{
			Provider:   r.Provider,
			Model:      r.Model,
			Status:     r.Status,
			WER:        r.WER,
			CER:        r.CER,
			DurationMs: r.DurationMs,
			Stats:      r.Stats,
			Error:      r.Error,
		}
	}
	return msg
}
