package authcore

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig() Config {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false
	return cfg
}

// collectUntil reads events until one of type last arrives.
func collectUntil(t *testing.T, sink *ChannelSink, last string) []AuditEvent {
	t.Helper()

	var events []AuditEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
			if ev.EventType == last {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q; got %d events", last, len(events))
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	e := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	mustRegister(t, e, "ada", "ada@example.com")
	_, _ = e.Login(WithClientIP(context.Background(), "203.0.113.1"), "ada", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if got := sink.count.Load(); got != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", got)
	}
}

func TestAuditSessionLifecycleEvents(t *testing.T) {
	sink := NewChannelSink(32)
	e := buildTestEngine(t, auditConfig(), func(b *Builder) { b.WithAuditSink(sink) })

	reg := mustRegister(t, e, "ada", "ada@example.com")
	if _, err := e.Login(context.Background(), "ada", "wrong-password"); err == nil {
		t.Fatal("expected login failure")
	}
	refreshed, err := e.Refresh(context.Background(), reg.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := e.Logout(context.Background(), refreshed.Token, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	byType := map[string]AuditEvent{}
	var order []string
	for _, ev := range collectUntil(t, sink, "logout") {
		byType[ev.EventType] = ev
		order = append(order, ev.EventType)
	}

	want := []string{"register_success", "login_failure", "refresh_success", "logout"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event order %v, want %v", order, want)
	}

	if ev := byType["login_failure"]; ev.Success || ev.Error != "invalid_credentials" {
		t.Fatalf("unexpected login_failure event: %+v", ev)
	}
	logout := byType["logout"]
	if !logout.Success || logout.SubjectID == "" {
		t.Fatalf("unexpected logout event: %+v", logout)
	}
	if logout.Metadata["blacklisted"] != "true" {
		t.Fatalf("expected blacklisted=true, got %q", logout.Metadata["blacklisted"])
	}
	if logout.Metadata["refresh_token_supplied"] != "true" {
		t.Fatalf("expected refresh_token_supplied=true, got %q", logout.Metadata["refresh_token_supplied"])
	}
	for _, ev := range byType {
		if ev.Timestamp.IsZero() {
			t.Fatalf("event %q has no timestamp", ev.EventType)
		}
	}
}

func TestAuditBlacklistHitAndOverride(t *testing.T) {
	sink := NewChannelSink(32)
	e := buildTestEngine(t, auditConfig(), func(b *Builder) { b.WithAuditSink(sink) })

	reg := mustRegister(t, e, "ada", "ada@example.com")
	if _, err := e.Logout(context.Background(), reg.Token, ""); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := e.Authenticate(context.Background(), reg.Token); err == nil {
		t.Fatal("expected blacklisted token to be rejected")
	}
	if err := e.RemoveFromBlacklist(context.Background(), reg.Token); err != nil {
		t.Fatalf("RemoveFromBlacklist failed: %v", err)
	}

	events := collectUntil(t, sink, "blacklist_removed")
	var hit *AuditEvent
	for i := range events {
		if events[i].EventType == "blacklist_hit" {
			hit = &events[i]
		}
		if events[i].EventType == "logout" && events[i].Metadata["refresh_token_supplied"] != "false" {
			t.Fatalf("expected refresh_token_supplied=false, got %q", events[i].Metadata["refresh_token_supplied"])
		}
	}
	if hit == nil {
		t.Fatal("expected blacklist_hit event")
	}
	if hit.Error != "blacklisted" || hit.TokenID == "" {
		t.Fatalf("unexpected blacklist_hit event: %+v", *hit)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	sink := NewChannelSink(32)
	e := buildTestEngine(t, auditConfig(), func(b *Builder) { b.WithAuditSink(sink) })

	const secret = "Sup3r$ecret"
	reg := mustRegister(t, e, "ada", "ada@example.com")
	login := mustLogin(t, e, "ada", secret)
	if _, err := e.Login(context.Background(), "ada@example.com", secret+"x"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := e.Logout(context.Background(), login.Token, login.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	needles := []string{
		secret,
		reg.Token,
		reg.RefreshToken,
		login.Token,
		login.RefreshToken,
		e.store.passwordHash(reg.User.ID),
	}

	for _, ev := range collectUntil(t, sink, "logout") {
		for _, needle := range needles {
			if strings.Contains(ev.Error, needle) || strings.Contains(ev.TokenID, needle) {
				t.Fatalf("sensitive value leaked in %q event", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("sensitive value leaked in %q metadata", ev.EventType)
				}
			}
		}
	}
}

func TestAuditDroppedWhenBufferFull(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1
	cfg.Audit.DropIfFull = true

	sink := &gateSink{gate: make(chan struct{})}
	e := buildTestEngine(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	defer close(sink.gate)

	for i := 0; i < 6; i++ {
		_, _ = e.Login(context.Background(), "nobody", "wrong-password")
	}

	if got := e.AuditDropped(); got == 0 {
		t.Fatal("expected dropped audit events with a blocked sink")
	}
}
