package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama/mocks"

	"github.com/m3rciful/studybot/internal/domain"
)

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, Config{}.SaramaConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != TypeOffered || e.RequestID != 42 || e.From != domain.StatusNew || e.To != domain.StatusOffered {
			return fmt.Errorf("unexpected event %+v", e)
		}
		return nil
	})

	p := NewPublisher(producer, "requests")
	if err := p.Publish(context.Background(), New(TypeOffered, 42, domain.StatusNew, domain.StatusOffered, 7)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaPublisherSurfacesFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, Config{}.SaramaConfig())
	boom := errors.New("broker down")
	producer.ExpectSendMessageAndFail(boom)

	p := NewPublisher(producer, "requests")
	err := p.Publish(context.Background(), New(TypeSubmitted, 1, "", domain.StatusNew, 1))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	_ = p.Close()
}

func TestConfigEnabled(t *testing.T) {
	if (Config{Brokers: " , "}).Enabled() {
		t.Fatal("blank brokers must disable kafka")
	}
	if !(Config{Brokers: "a:9092, b:9092"}).Enabled() {
		t.Fatal("brokers configured")
	}
}
