// internal/delivery/registry_test.go
package delivery

import (
	"context"
	"strings"
	"testing"

	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey types.SessionKey
	var gotMsg string
	reg.Register("test:", func(_ context.Context, key types.SessionKey, message string) error {
		gotKey = key
		gotMsg = message
		return nil
	})

	err := reg.Deliver(context.Background(), "test:123", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test:123" {
		t.Errorf("expected session key %q, got %q", "test:123", gotKey)
	}
	if gotMsg != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver(context.Background(), "unknown:123", "hello")
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var generic, operator int
	reg.Register("telegram:", func(context.Context, types.SessionKey, string) error {
		generic++
		return nil
	})
	reg.Register("telegram:ops", func(context.Context, types.SessionKey, string) error {
		operator++
		return nil
	})

	ctx := context.Background()
	if err := reg.Deliver(ctx, "telegram:42:100", "msg1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Deliver(ctx, "telegram:ops:1", "msg2"); err != nil {
		t.Fatal(err)
	}

	if generic != 1 || operator != 1 {
		t.Errorf("expected one call each, got generic=%d operator=%d", generic, operator)
	}
	if got := reg.Prefixes(); len(got) != 2 || got[0] != "telegram:" {
		t.Errorf("unexpected prefixes %v", got)
	}
}

func TestCrisisAlerts(t *testing.T) {
	reg := NewRegistry()

	var alerts []string
	reg.Register("cli", func(_ context.Context, _ types.SessionKey, message string) error {
		alerts = append(alerts, message)
		return nil
	})

	ev := crisis.Event{SessionID: "s1", SessionKey: "telegram:1:1", Level: 5, Text: "tonight"}
	if err := reg.CrisisAlerts("cli")(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || !strings.Contains(alerts[0], "level 5") {
		t.Errorf("unexpected alerts %v", alerts)
	}

	if err := reg.CrisisAlerts("")(context.Background(), ev); err != nil {
		t.Errorf("expected no error without operator, got %v", err)
	}
	if err := reg.CrisisAlerts("slack:ops")(context.Background(), ev); err == nil {
		t.Error("expected error for unroutable operator key")
	}
}
