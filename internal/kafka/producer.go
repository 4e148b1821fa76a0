package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzzdr/warrant-risk-engine/config"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// RiskPublisher pushes computed risk figures onto Kafka so downstream
// dashboards and limit monitors see them without polling the API.
// Publishing is best effort; a broker outage never fails a risk
// calculation.
type RiskPublisher struct {
	metricsWriter *kafka.Writer
	alertsWriter  *kafka.Writer
	log           *logger.Logger
}

// NewRiskPublisher builds writers for the risk metrics and stress
// alert topics.
func NewRiskPublisher(cfg config.KafkaConfig) *RiskPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{
			Brokers:      cfg.Brokers,
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    cfg.Producer.BatchSize,
			BatchTimeout: cfg.Producer.BatchTimeout,
			MaxAttempts:  cfg.Producer.MaxRetries,
			Async:        true,
		})
	}
	return &RiskPublisher{
		metricsWriter: newWriter(cfg.Topics.RiskMetrics),
		alertsWriter:  newWriter(cfg.Topics.StressAlerts),
		log:           logger.GetLogger("kafka.publisher"),
	}
}

type varMessage struct {
	PortfolioSymbols []string         `json:"portfolio_symbols"`
	Result           models.VaRResult `json:"result"`
	Timestamp        time.Time        `json:"timestamp"`
}

// PublishVaR sends one VaR result keyed by the joined symbol list.
func (p *RiskPublisher) PublishVaR(ctx context.Context, symbols []string, result models.VaRResult) error {
	msg := varMessage{
		PortfolioSymbols: symbols,
		Result:           result,
		Timestamp:        time.Now(),
	}
	return p.publish(ctx, p.metricsWriter, key(symbols), msg)
}

type stressAlertMessage struct {
	WorstCase       models.StressResult         `json:"worst_case_scenario"`
	Recommendations models.StressRecommendation `json:"recommendations"`
	Timestamp       time.Time                   `json:"timestamp"`
}

// PublishStressAlert sends the worst case of a stress run when the
// recommendation level is above LOW.
func (p *RiskPublisher) PublishStressAlert(ctx context.Context, report models.StressTestReport) error {
	if report.WorstCase == nil || report.Recommendations.RiskLevel == "LOW" {
		return nil
	}
	msg := stressAlertMessage{
		WorstCase:       *report.WorstCase,
		Recommendations: report.Recommendations,
		Timestamp:       time.Now(),
	}
	return p.publish(ctx, p.alertsWriter, []byte(report.WorstCase.ScenarioName), msg)
}

func (p *RiskPublisher) publish(ctx context.Context, w *kafka.Writer, k []byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal kafka payload")
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: k, Value: payload}); err != nil {
		p.log.Errorf("failed to publish to %s: %v", w.Topic, err)
		return errors.UpstreamData("kafka publish failed", err)
	}
	return nil
}

// Close flushes and closes both writers.
func (p *RiskPublisher) Close() error {
	if err := p.metricsWriter.Close(); err != nil {
		return err
	}
	return p.alertsWriter.Close()
}

func key(symbols []string) []byte {
	out := make([]byte, 0, 32)
	for i, s := range symbols {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, s...)
	}
	return out
}
