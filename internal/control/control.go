// Package control handles the MQTT command topics of the node and the
// broker connection lifecycle hooks.
package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/homeapp-node/internal/infrastructure/mqtt"
)

// commandQoS is the subscription QoS of command topics.
const commandQoS = 1

// Subscriber registers topic handlers.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Updater starts firmware updates.
type Updater interface {
	Start(ctx context.Context, imageName string) error
}

// Sensors renames sensors and republishes their values.
type Sensors interface {
	SetFriendlyName(ctx context.Context, key, name string) error
	SendAll()
}

// Counters counts broker connection changes.
type Counters interface {
	IncConnect()
	IncDisconnect()
}

// Logger defines the logging interface used by the controller.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Controller dispatches command messages. Sensors and Counters may be nil.
type Controller struct {
	ctx      context.Context
	topics   mqtt.Topics
	updater  Updater
	sensors  Sensors
	counters Counters
	logger   Logger
}

// New creates a Controller. ctx is handed to the operations started by
// commands.
func New(ctx context.Context, topics mqtt.Topics, updater Updater, sensors Sensors, counters Counters) *Controller {
	return &Controller{
		ctx:      ctx,
		topics:   topics,
		updater:  updater,
		sensors:  sensors,
		counters: counters,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// Register subscribes to the command topics.
func (c *Controller) Register(sub Subscriber) error {
	if err := sub.Subscribe(c.topics.OTACommand(), commandQoS, c.HandleOTACommand); err != nil {
		return fmt.Errorf("subscribing to ota command: %w", err)
	}
	if c.sensors == nil {
		return nil
	}
	if err := sub.Subscribe(c.topics.AllTemperatureNameCommands(), commandQoS, c.HandleNameCommand); err != nil {
		return fmt.Errorf("subscribing to sensor name commands: %w", err)
	}
	return nil
}

// HandleOTACommand starts an update; the payload is the image file name.
func (c *Controller) HandleOTACommand(topic string, payload []byte) error {
	name := strings.TrimSpace(string(payload))
	c.logger.Info("ota update requested", "image", name)
	if err := c.updater.Start(c.ctx, name); err != nil {
		c.logger.Warn("ota update rejected", "image", name, "error", err)
		return fmt.Errorf("starting ota update: %w", err)
	}
	return nil
}

// HandleNameCommand renames the sensor named in the topic and republishes
// the sensor values so the retained records carry the new name.
func (c *Controller) HandleNameCommand(topic string, payload []byte) error {
	key, ok := c.topics.SensorKeyFromNameCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", mqtt.ErrInvalidTopic, topic)
	}
	name := strings.TrimSpace(string(payload))
	if err := c.sensors.SetFriendlyName(c.ctx, key, name); err != nil {
		c.logger.Warn("sensor rename rejected", "key", key, "name", name, "error", err)
		return fmt.Errorf("renaming sensor %s: %w", key, err)
	}
	c.sensors.SendAll()
	return nil
}

// OnConnect counts the connection and republishes every sensor value so
// new subscribers see current readings.
func (c *Controller) OnConnect() {
	if c.counters != nil {
		c.counters.IncConnect()
	}
	if c.sensors != nil {
		c.sensors.SendAll()
	}
}

// OnDisconnect counts a lost connection.
func (c *Controller) OnDisconnect(err error) {
	if c.counters != nil {
		c.counters.IncDisconnect()
	}
	c.logger.Warn("broker connection lost", "error", err)
}
