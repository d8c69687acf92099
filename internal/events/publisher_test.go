package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"connector/internal/models"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, eventType, want string
	}{
		{"connector-worker", models.EventOrderStatus, "connector-worker.order_status"},
		{"connector-worker", models.EventUserExAccError, "connector-worker.user_ex_acc_error"},
		{"", models.EventOrderError, "order_error"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.eventType); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.eventType, got, tt.want)
		}
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ev := models.NewEvent(models.EventOrderStatus, "acc1",
		&models.OrderEvent{OrderID: "o1", UserExAccID: "acc1", Status: models.OrderStatusClosed}, testNow)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "connector-worker.order_status" {
			return fmt.Errorf("topic = %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "acc1" {
			return fmt.Errorf("key = %s", key)
		}
		value, _ := msg.Value.Encode()
		var got models.Event
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.ID != ev.ID || got.Type != models.EventOrderStatus {
			return fmt.Errorf("payload = %+v", got)
		}
		return nil
	})

	p := NewKafkaPublisher(producer, "connector-worker", nil)
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestKafkaPublisher_SendError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer, "connector-worker", nil)
	err := p.Publish(context.Background(), models.NewEvent(models.EventOrderError, "acc1", nil, testNow))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("error = %v, want ErrOutOfBrokers", err)
	}
}

func TestKafkaPublisher_CanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewKafkaPublisher(producer, "", nil)
	if err := p.Publish(ctx, models.NewEvent(models.EventOrderStatus, "acc1", nil, testNow)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

type recordingPublisher struct {
	events []*models.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev *models.Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func TestMulti_Publish(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("kafka down")}
	ok := &recordingPublisher{}

	ev := models.NewEvent(models.EventUserExAccError, "acc1", nil, testNow)
	err := Multi{failing, ok}.Publish(context.Background(), ev)

	if err == nil || err.Error() != "kafka down" {
		t.Errorf("error = %v", err)
	}
	// Ошибка первого получателя не мешает второму
	if len(ok.events) != 1 {
		t.Errorf("second sink got %d events", len(ok.events))
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Publish(context.Background(), models.NewEvent("X", "k", nil, testNow)); err != nil {
		t.Errorf("error = %v", err)
	}
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(nil)
	if err := p.Publish(context.Background(), models.NewEvent(models.EventOrderStatus, "acc1", nil, testNow)); err != nil {
		t.Errorf("error = %v", err)
	}
}
