package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSender struct {
	name string
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.fail {
		return errors.New("boom")
	}
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventArbitrage}, discard())

	if err := n.Notify(context.Background(), EventDrawdown, "dd", "m"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("filtered event was delivered: %v", s.sent)
	}

	if err := n.Notify(context.Background(), EventArbitrage, "arb hit", "m"); err != nil {
		t.Fatalf("Notify allowed event: %v", err)
	}
	if len(s.sent) != 1 || s.sent[0] != "arb hit" {
		t.Fatalf("allowed event not delivered: %v", s.sent)
	}
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, discard())

	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("event not delivered with empty filter")
	}
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
	if len(good.sent) != 1 {
		t.Fatalf("healthy sender skipped after failure")
	}
}
