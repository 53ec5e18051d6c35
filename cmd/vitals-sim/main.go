package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"vitalwatch/internal/logging"
	"vitalwatch/internal/model"
)

type publisher interface {
	Publish(ctx context.Context, r model.TelemetryReading) error
	Close()
}

func main() {
	mode := flag.String("mode", "mqtt", "transport: mqtt or rest")
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topicPrefix := flag.String("topic-prefix", "ward/patients", "MQTT topic prefix; readings go to <prefix>/<patient_id>/vitals")
	restURL := flag.String("rest-url", "http://localhost:8082/readings", "REST ingest endpoint")
	patients := flag.String("patients", "P1,P2,P3", "comma separated patient ids")
	interval := flag.Duration("interval", 2*time.Second, "interval between rounds of readings")
	baseHR := flag.Int("base-hr", 75, "baseline heart rate")
	hrJitter := flag.Int("hr-jitter", 15, "maximum random heart rate jitter")
	baseOx := flag.Int("base-ox", 97, "baseline oxygen level")
	oxJitter := flag.Int("ox-jitter", 3, "maximum random oxygen jitter")
	spikeEvery := flag.Int("spike-every", 10, "every Nth round one patient gets an abnormal reading (0 disables)")
	flag.Parse()

	logger, err := logging.NewLogger("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var pub publisher
	switch *mode {
	case "mqtt":
		pub, err = newMQTTPublisher(*brokerAddr, *topicPrefix)
	case "rest":
		pub = newRESTPublisher(*restURL)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		logger.Fatal("publisher setup failed", zap.Error(err))
	}
	defer pub.Close()

	ids := splitIDs(*patients)
	if len(ids) == 0 {
		logger.Fatal("no patients to simulate")
	}
	logger.Info("simulating vitals", zap.String("mode", *mode), zap.Strings("patients", ids), zap.Duration("interval", *interval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	round := 0
	publishRound := func() {
		round++
		spikeIdx := -1
		if *spikeEvery > 0 && round%*spikeEvery == 0 {
			spikeIdx = rng.Intn(len(ids))
		}
		for i, id := range ids {
			r := model.TelemetryReading{
				PatientID:   id,
				HeartRate:   jitter(rng, *baseHR, *hrJitter),
				OxygenLevel: clamp(jitter(rng, *baseOx, *oxJitter), 0, 100),
			}
			if i == spikeIdx {
				r.HeartRate = 125 + rng.Intn(30)
				r.OxygenLevel = 85 + rng.Intn(5)
			}
			if err := pub.Publish(ctx, r); err != nil {
				logger.Warn("publish failed", zap.String("patient_id", id), zap.Error(err))
				continue
			}
			logger.Info("published", zap.String("patient_id", id), zap.Int("hr", r.HeartRate), zap.Int("ox", r.OxygenLevel))
		}
	}

	publishRound()
	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			return
		case <-ticker.C:
			publishRound()
		}
	}
}

type mqttPublisher struct {
	client mqtt.Client
	prefix string
}

func newMQTTPublisher(broker, prefix string) (*mqttPublisher, error) {
	clientID := fmt.Sprintf("vitals-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetOrderMatters(false)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", broker, token.Error())
	}
	return &mqttPublisher{client: client, prefix: strings.TrimRight(prefix, "/")}, nil
}

func (p *mqttPublisher) Publish(_ context.Context, r model.TelemetryReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/vitals", p.prefix, r.PatientID)
	token := p.client.Publish(topic, 0, false, data)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}

type restPublisher struct {
	client *resty.Client
	url    string
}

func newRESTPublisher(url string) *restPublisher {
	return &restPublisher{
		client: resty.New().SetTimeout(5 * time.Second).SetHeader("Content-Type", "application/json"),
		url:    url,
	}
}

func (p *restPublisher) Publish(ctx context.Context, r model.TelemetryReading) error {
	resp, err := p.client.R().SetContext(ctx).SetBody(r).Post(p.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ingest returned %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (p *restPublisher) Close() {}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func jitter(rng *rand.Rand, base, j int) int {
	if j <= 0 {
		return base
	}
	return base + rng.Intn(j*2+1) - j
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
