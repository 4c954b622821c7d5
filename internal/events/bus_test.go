package events

import (
	"testing"
	"time"
)

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Publish(CardsChanged{NewProjectScoped("p1")})
}

func TestSubscriberReceivesEvent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(CardsChanged{NewProjectScoped("project-123")})

	select {
	case ev := <-sub.C:
		if ev.EventType() != TypeCardsChanged {
			t.Errorf("EventType = %q", ev.EventType())
		}
		if ev.Scope() != "project-123" {
			t.Errorf("Scope = %q", ev.Scope())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersReceiveSameEvent(t *testing.T) {
	bus := NewBus()
	sub1 := bus.Subscribe()
	defer sub1.Close()
	sub2 := bus.Subscribe()
	defer sub2.Close()

	bus.Publish(AgentOutput{WorkspaceID: "ws1", Stream: "stdout", Line: "hello"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.C:
			out, ok := ev.(AgentOutput)
			if !ok || out.Line != "hello" {
				t.Errorf("unexpected event %#v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSlowSubscriberGetsLagNotification(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffer(2)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(AgentOutput{WorkspaceID: "ws1", Stream: "stdout", Line: "line"})
	}

	select {
	case <-sub.Lag:
	default:
		t.Fatal("expected lag notification after overflow")
	}

	// The first two events are still deliverable.
	if len(sub.C) != 2 {
		t.Errorf("queued events = %d, want 2", len(sub.C))
	}
}

func TestClosedSubscriberNoLongerReceives(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()

	bus.Publish(ProjectsChanged{})

	select {
	case ev := <-sub.C:
		t.Errorf("received event %#v after Close", ev)
	default:
	}
}

func TestScopes(t *testing.T) {
	cases := []struct {
		ev    Event
		etype string
		scope string
	}{
		{AgentOutput{WorkspaceID: "w"}, TypeAgentOutput, "w"},
		{AgentExit{WorkspaceID: "w"}, TypeAgentExit, "w"},
		{AgentCrashed{WorkspaceID: "w", ProjectID: "p"}, TypeAgentCrashed, "w"},
		{WorkspacesChanged{NewProjectScoped("p")}, TypeWorkspacesChanged, "p"},
		{StatusesChanged{NewProjectScoped("p")}, TypeStatusesChanged, "p"},
		{ProjectsChanged{}, TypeProjectsChanged, ""},
		{ConfigChanged{}, TypeConfigChanged, ""},
	}
	for _, tc := range cases {
		if tc.ev.EventType() != tc.etype {
			t.Errorf("EventType = %q, want %q", tc.ev.EventType(), tc.etype)
		}
		if tc.ev.Scope() != tc.scope {
			t.Errorf("%s Scope = %q, want %q", tc.etype, tc.ev.Scope(), tc.scope)
		}
	}
}
