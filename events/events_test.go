package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/nats-io/nats.go"
)

func TestNew(t *testing.T) {
	ev := New(TypeRiskEscalated, "u1", "s1", map[string]any{"risk": "high"})
	if ev.ID == "" || ev.Time.IsZero() {
		t.Fatalf("event not stamped: %+v", ev)
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back["type"] != TypeRiskEscalated || back["user_id"] != "u1" {
		t.Fatalf("unexpected wire form %s", data)
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &failingPublisher{}
	rec := NewRecorder()
	m := NewMulti(nil, bad, nil, rec)

	if err := m.Publish(context.Background(), New(TypeSessionStarted, "u", "s", nil)); err != nil {
		t.Fatalf("Multi should never fail, got %v", err)
	}
	if bad.calls != 1 {
		t.Fatalf("expected failing publisher to be called once, got %d", bad.calls)
	}
	if got := rec.OfType(TypeSessionStarted); len(got) != 1 {
		t.Fatalf("recorder should still receive the event, got %d", len(got))
	}
	if err := (Nop{}).Publish(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != TypeSessionFinished || ev.SessionID != "s1" {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer, "", nil)
	ctx := context.Background()
	if err := p.Publish(ctx, New(TypeSessionFinished, "u1", "s1", nil)); err != nil {
		t.Fatal(err)
	}
	err := p.Publish(ctx, New(TypeSessionFinished, "u1", "s1", nil))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(ctx, Event{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after Stop, got %v", err)
	}
}

func TestNATSPublisher_NotStarted(t *testing.T) {
	p := NewNATSPublisher("", "", nil)
	if got := p.Subject(TypeRiskEscalated); got != "mindcare.risk.escalated" {
		t.Fatalf("Subject = %q", got)
	}
	if err := p.Publish(context.Background(), Event{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNATSPublisher_Integration(t *testing.T) {
	url := os.Getenv("MINDCARE_TEST_NATS_URL")
	if url == "" {
		t.Skip("MINDCARE_TEST_NATS_URL not set")
	}
	ctx := context.Background()
	p := NewNATSPublisher(url, "mindcare-test", nil)
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(ctx)

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("mindcare-test.>", ch)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Unsubscribe()
	_ = sub.Flush()

	if err := p.Publish(ctx, New(TypeRiskEscalated, "u1", "s1", nil)); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-ch:
		if msg.Subject != "mindcare-test.risk.escalated" {
			t.Fatalf("unexpected subject %q", msg.Subject)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
