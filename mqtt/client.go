package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic layout. Each installation has its own command topic; responses and
// heartbeats come back on per-installation topics matched by wildcard.
const (
	commandTopicFmt      = "solar/v1/%d/command"
	responseTopicFilter  = "solar/v1/+/response"
	heartbeatTopicFilter = "solar/v1/+/heartbeat"

	publishTimeout = 5 * time.Second
)

// ResponseProcessor consumes inbound command responses.
type ResponseProcessor interface {
	ProcessCommandResponse(ctx context.Context, resp *models.CommandResponseMessage) error
}

// HeartbeatSink consumes inbound device heartbeats.
type HeartbeatSink interface {
	RecordHeartbeat(ctx context.Context, hb *models.HeartbeatMessage) error
}

// Client is the MQTT bridge between the control plane and field devices.
type Client struct {
	client     mqtt.Client
	responses  ResponseProcessor
	heartbeats HeartbeatSink
	logger     *slog.Logger
}

// NewClient connects to the broker and subscribes to the inbound topics.
func NewClient(cfg *config.Config, responses ResponseProcessor, heartbeats HeartbeatSink, appLogger *slog.Logger) (*Client, error) {
	c := &Client{
		responses:  responses,
		heartbeats: heartbeats,
		logger:     appLogger.With("component", "mqtt"),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetUsername(cfg.MQTTUsername).
		SetPassword(cfg.MQTTPassword).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Error("MQTT connection lost", "error", err)
		})

	c.client = mqtt.NewClient(opts)
	c.logger.Info("Connecting to MQTT broker...", "broker", cfg.MQTTBroker, "client_id", cfg.MQTTClientID)
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return c, nil
}

// onConnect runs on every (re)connect; subscriptions must be re-established
// each time.
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected, subscribing",
		"response_filter", responseTopicFilter, "heartbeat_filter", heartbeatTopicFilter)

	if token := client.Subscribe(responseTopicFilter, 1, c.handleResponse); token.Wait() && token.Error() != nil {
		c.logger.Error("Failed to subscribe to response topic", "error", token.Error())
	}
	if token := client.Subscribe(heartbeatTopicFilter, 1, c.handleHeartbeat); token.Wait() && token.Error() != nil {
		c.logger.Error("Failed to subscribe to heartbeat topic", "error", token.Error())
	}
}

// PublishCommand sends a command payload to the installation's command topic.
func (c *Client) PublishCommand(ctx context.Context, installationID uint, msg *models.CommandMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal command message: %w", err)
	}

	topic := fmt.Sprintf(commandTopicFmt, installationID)
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, token.Error())
	}

	c.logger.Debug("Command published",
		"topic", topic, "correlation_id", msg.CorrelationID, "command", msg.Command)
	return nil
}

func (c *Client) handleResponse(_ mqtt.Client, m mqtt.Message) {
	var resp models.CommandResponseMessage
	if err := json.Unmarshal(m.Payload(), &resp); err != nil {
		c.logger.Error("Unparseable command response", "topic", m.Topic(), "error", err)
		return
	}

	err := c.responses.ProcessCommandResponse(context.Background(), &resp)
	switch {
	case err == nil:
	case utils.IsKind(err, utils.KindDuplicateResponse),
		utils.IsKind(err, utils.KindExpiredCommand):
		c.logger.Warn("Command response rejected",
			"correlation_id", resp.CorrelationID, "error", err)
	case utils.IsKind(err, utils.KindUnauthorized):
		c.logger.Warn("Unauthorized command response dropped",
			"correlation_id", resp.CorrelationID, "installation_id", resp.InstallationID)
	default:
		c.logger.Error("Failed to process command response",
			"correlation_id", resp.CorrelationID, "error", err)
	}
}

func (c *Client) handleHeartbeat(_ mqtt.Client, m mqtt.Message) {
	var hb models.HeartbeatMessage
	if err := json.Unmarshal(m.Payload(), &hb); err != nil {
		c.logger.Error("Unparseable heartbeat", "topic", m.Topic(), "error", err)
		return
	}

	if err := c.heartbeats.RecordHeartbeat(context.Background(), &hb); err != nil {
		if utils.IsKind(err, utils.KindUnauthorized) {
			c.logger.Warn("Unauthorized heartbeat dropped", "installation_id", hb.InstallationID)
			return
		}
		c.logger.Error("Failed to process heartbeat",
			"installation_id", hb.InstallationID, "error", err)
	}
}

// Disconnect flushes in-flight messages and closes the connection.
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")
	c.client.Disconnect(250)
}
