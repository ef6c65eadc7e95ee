package dispatch

import "context"

// Notification is an outbound message to a carrier or an operator. Delivery
// channels (email, push, SMS) live behind the collaborator.
type Notification struct {
	// Kind is one of "offer", "reminder", "accepted", "escalated",
	// "unfulfilled".
	Kind      string
	MissionID string
	CarrierID string
	Subject   string
	Body      string
}

// Notifier delivers notifications. Failures are logged, never fatal to the
// dispatch flow.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
