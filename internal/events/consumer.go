package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"

	"connector/internal/errkind"
	"connector/internal/models"
	"connector/pkg/utils"
)

// CommandHandler принимает команду ADD_CONNECTOR_JOB
type CommandHandler interface {
	AddConnectorJob(ctx context.Context, cmd *models.AddConnectorJobCommand) (*models.ConnectorJob, error)
}

// Command - конверт входящей команды
type Command struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

// ErrUnknownCommand - тип команды не поддерживается
var ErrUnknownCommand = errors.New("unknown command type")

// CommandConsumer читает команды из Kafka через consumer group
type CommandConsumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler *commandGroupHandler
	logger  *utils.Logger
}

// NewCommandConsumer подключает consumer group к топику команд
func NewCommandConsumer(cfg KafkaConfig, handler CommandHandler, logger *utils.Logger) (*CommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group required")
	}

	sc := saramaConfig(cfg.ClientID)
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return newCommandConsumer(group, []string{cfg.CommandsTopic}, handler, logger), nil
}

func newCommandConsumer(group sarama.ConsumerGroup, topics []string, handler CommandHandler, logger *utils.Logger) *CommandConsumer {
	if logger == nil {
		logger = utils.L()
	}
	logger = logger.WithComponent("command_consumer")
	return &CommandConsumer{
		group:   group,
		topics:  topics,
		handler: &commandGroupHandler{handler: handler, logger: logger},
		logger:  logger,
	}
}

// Run читает команды до отмены ctx. Ошибки группы логируются, чтение возобновляется
func (c *CommandConsumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("kafka consumer error", utils.Err(err))
		}
	}()

	for {
		if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", utils.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close закрывает consumer group
func (c *CommandConsumer) Close() error {
	return c.group.Close()
}

type commandGroupHandler struct {
	handler CommandHandler
	logger  *utils.Logger
}

func (h *commandGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *commandGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции.
// Невалидные команды подтверждаются и отбрасываются, временные ошибки оставляют offset
func (h *commandGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handle(session.Context(), msg.Value)
		if err != nil && !permanent(err) {
			h.logger.Error("command handling failed",
				utils.String("topic", msg.Topic),
				utils.Int("partition", int(msg.Partition)),
				utils.Int64("offset", msg.Offset),
				utils.Err(err))
			// Offset не сдвигаем: после ребаланса сообщение будет прочитано снова
			return nil
		}
		if err != nil {
			h.logger.Warn("command rejected",
				utils.Int64("offset", msg.Offset),
				utils.Err(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *commandGroupHandler) handle(ctx context.Context, value []byte) error {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		CommandsConsumed.WithLabelValues("", "invalid").Inc()
		return errkind.New(errkind.Validation, "decode command", err)
	}

	switch cmd.Type {
	case models.CommandAddConnectorJob:
		var add models.AddConnectorJobCommand
		if err := json.Unmarshal(cmd.Data, &add); err != nil {
			CommandsConsumed.WithLabelValues(cmd.Type, "invalid").Inc()
			return errkind.New(errkind.Validation, "decode "+cmd.Type, err)
		}
		job, err := h.handler.AddConnectorJob(ctx, &add)
		if err != nil {
			CommandsConsumed.WithLabelValues(cmd.Type, "error").Inc()
			return err
		}
		CommandsConsumed.WithLabelValues(cmd.Type, "ok").Inc()
		h.logger.Debug("connector job added",
			utils.JobID(job.ID),
			utils.OrderID(job.OrderID),
			utils.JobType(job.Type))
		return nil
	default:
		CommandsConsumed.WithLabelValues(cmd.Type, "unknown").Inc()
		return errkind.New(errkind.Validation, "command", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type))
	}
}

func permanent(err error) bool {
	return errkind.Is(err, errkind.Validation)
}
