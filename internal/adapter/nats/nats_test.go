package nats

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Broker {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	b, err := Connect(url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func TestStatusSubject(t *testing.T) {
	if got := StatusSubject("a1"); got != "agents.status.a1" {
		t.Errorf("StatusSubject = %q", got)
	}
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := testConnect(t)
	subject := StatusSubject("test-" + t.Name())

	var (
		mu   sync.Mutex
		got  []byte
		done = make(chan struct{})
		once sync.Once
	)

	stop, err := b.Subscribe(subject, func(_ string, data []byte) {
		mu.Lock()
		got = data
		mu.Unlock()
		once.Do(func() { close(done) })
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	want := []byte(`{"type":"agent.status"}`)
	if err := b.Publish(context.Background(), subject, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != string(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBrokerWildcardSubscribe(t *testing.T) {
	b := testConnect(t)

	var (
		mu       sync.Mutex
		subjects []string
		done     = make(chan struct{})
	)

	stop, err := b.Subscribe(SubjectPrefix+">", func(subject string, _ []byte) {
		mu.Lock()
		subjects = append(subjects, subject)
		if len(subjects) == 2 {
			close(done)
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	for _, id := range []string{"wild-a", "wild-b"} {
		if err := b.Publish(context.Background(), StatusSubject(id), []byte("{}")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for wildcard delivery")
	}
}
