package linker

import (
	"fmt"
	"testing"
)

func TestHubFansOut(t *testing.T) {
	hub := NewHub()

	first, cancelFirst := hub.Subscribe("order-1")
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe("order-1")
	defer cancelSecond()
	other, cancelOther := hub.Subscribe("order-2")
	defer cancelOther()

	hub.Publish("order-1", "STATUS:connecting")

	if got := <-first; got != "STATUS:connecting" {
		t.Fatalf("first subscriber got %q", got)
	}
	if got := <-second; got != "STATUS:connecting" {
		t.Fatalf("second subscriber got %q", got)
	}
	select {
	case line := <-other:
		t.Fatalf("order-2 subscriber received %q", line)
	default:
	}
}

func TestHubReplaysTail(t *testing.T) {
	hub := NewHub()
	hub.Publish("order-1", "STATUS:connecting")
	hub.Publish("order-1", "SUCCESS:Automation Complete")

	ch, cancel := hub.Subscribe("order-1")
	defer cancel()

	if got := <-ch; got != "STATUS:connecting" {
		t.Fatalf("expected first retained line, got %q", got)
	}
	if got := <-ch; got != "SUCCESS:Automation Complete" {
		t.Fatalf("expected terminal line, got %q", got)
	}
}

func TestHubTailBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < tailLimit+50; i++ {
		hub.Publish("order-1", fmt.Sprintf("STATUS:step %d", i))
	}

	ch, cancel := hub.Subscribe("order-1")
	defer cancel()

	if got := <-ch; got != fmt.Sprintf("STATUS:step %d", 50) {
		t.Fatalf("expected oldest retained line to be step 50, got %q", got)
	}
}

func TestHubResetClearsTail(t *testing.T) {
	hub := NewHub()
	hub.Publish("order-1", "ERROR:previous run failed")
	hub.Reset("order-1")

	ch, cancel := hub.Subscribe("order-1")
	defer cancel()

	select {
	case line := <-ch:
		t.Fatalf("expected empty tail after reset, got %q", line)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("order-1")
	defer cancel()

	// Overflow the subscriber buffer; the hub must not block.
	for i := 0; i < tailLimit+100; i++ {
		hub.Publish("order-1", "STATUS:flood")
	}

	// The channel was closed when the subscriber fell behind.
	for range ch {
	}
}

func TestIsTerminal(t *testing.T) {
	cases := map[string]bool{
		"SUCCESS:Automation Complete": true,
		"ERROR:device not connected":  true,
		"STATUS:connecting":           false,
		"VERIFICATION_CODE:42":        true,
	}
	for line, want := range cases {
		if got := IsTerminal(line); got != want {
			t.Fatalf("IsTerminal(%q) = %v, want %v", line, got, want)
		}
	}
}
