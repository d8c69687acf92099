package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"

	"connector/internal/models"
	"connector/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher - получатель событий воркера
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// KafkaConfig - параметры подключения к Kafka
type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	TopicPrefix   string
	CommandsTopic string
	GroupID       string
}

func saramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V3_6_0_0
	return cfg
}

// NewSyncProducer создает идемпотентный синхронный producer
func NewSyncProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}

	sc := saramaConfig(cfg.ClientID)
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// Topic - топик события: <prefix>.<type в нижнем регистре>
func Topic(prefix, eventType string) string {
	t := strings.ToLower(eventType)
	if prefix == "" {
		return t
	}
	return prefix + "." + t
}

// KafkaPublisher публикует события в топик по типу события.
// Ключ сообщения - id аккаунта, события одного аккаунта попадают в одну партицию
type KafkaPublisher struct {
	producer sarama.SyncProducer
	prefix   string
	logger   *utils.Logger
}

// NewKafkaPublisher создает KafkaPublisher
func NewKafkaPublisher(producer sarama.SyncProducer, topicPrefix string, logger *utils.Logger) *KafkaPublisher {
	if logger == nil {
		logger = utils.L()
	}
	return &KafkaPublisher{
		producer: producer,
		prefix:   topicPrefix,
		logger:   logger.WithComponent("kafka_publisher"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}

	topic := Topic(p.prefix, ev.Type)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.Key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(ev.ID)},
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	PublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		EventsPublished.WithLabelValues("kafka", ev.Type, "error").Inc()
		return fmt.Errorf("publish %s to %s: %w", ev.Type, topic, err)
	}
	EventsPublished.WithLabelValues("kafka", ev.Type, "ok").Inc()

	p.logger.Debug("event published",
		utils.String("topic", topic),
		utils.AccountID(ev.Key),
		utils.Int("partition", int(partition)),
		utils.Int64("offset", offset))
	return nil
}

// Close закрывает producer
func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// Multi рассылает событие всем получателям.
// Ошибка одного получателя не мешает остальным, ошибки объединяются
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *models.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher пишет события в лог. Используется, когда Kafka не настроена
type LogPublisher struct {
	logger *utils.Logger
}

// NewLogPublisher создает LogPublisher
func NewLogPublisher(logger *utils.Logger) *LogPublisher {
	if logger == nil {
		logger = utils.L()
	}
	return &LogPublisher{logger: logger.WithComponent("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, ev *models.Event) error {
	p.logger.Info("event",
		utils.String("event_id", ev.ID),
		utils.String("event_type", ev.Type),
		utils.AccountID(ev.Key),
		utils.Any("data", ev.Data))
	EventsPublished.WithLabelValues("log", ev.Type, "ok").Inc()
	return nil
}
