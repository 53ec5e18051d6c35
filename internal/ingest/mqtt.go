package ingest

import (
	"context"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"vitalwatch/internal/config"
)

// StartMQTT subscribes to the configured topic filter. A message whose
// payload lacks a patient id takes it from the topic segment after
// "patients/", so devices may publish to patients/<id>/vitals.
func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- Event, logger *zap.Logger, observer Observer) error {
	logger = orNop(logger)
	if observer == nil {
		observer = nopObserver{}
	}
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		logger.Info("mqtt ingest disabled")
		return nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	lines := &lineHandler{source: SourceMQTT, parser: NewParser(), out: out, logger: logger, observer: observer}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		handleMQTTMessage(ctx, lines, msg.Topic(), msg.Payload())
	}
	// Resubscribe after every (re)connect; clean sessions drop subscriptions.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(current.Topic, current.QoS, handler); token.Wait() && token.Error() != nil {
			logger.Error("mqtt subscribe failed", zap.String("topic", current.Topic), zap.Error(token.Error()))
			return
		}
		logger.Info("mqtt ingest subscribed", zap.String("broker", current.Broker), zap.String("topic", current.Topic))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", current.Broker, token.Error())
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}

func handleMQTTMessage(ctx context.Context, lines *lineHandler, topic string, payload []byte) bool {
	fields, err := lines.parser.ParseLine(string(payload))
	if err != nil {
		lines.logger.Debug("unparseable mqtt payload", zap.String("topic", topic), zap.Error(err))
		lines.observer.ObserveReading(lines.source, OutcomeInvalid)
		return false
	}
	if fields == nil {
		return false
	}
	if strings.TrimSpace(fields.PatientID) == "" {
		fields.PatientID = patientFromTopic(topic)
	}
	return lines.handleFields(ctx, *fields)
}

func patientFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "patients" {
			return parts[i+1]
		}
	}
	return ""
}
