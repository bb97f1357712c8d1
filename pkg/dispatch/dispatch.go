// Package dispatch delivers outbound campaign messages. Delivery is
// decoupled from the flow engine by the event bus: the engine publishes a
// dispatch request after persisting its cursor, a dispatcher here performs
// the send and answers with a completion or failure event.
package dispatch

import (
	"context"
)

// Message is one outbound email resolved from an action node.
type Message struct {
	LeadID     string
	CampaignID string
	NodeID     string
	Recipient  string
	Subject    string
	Body       string
}

// Dispatcher performs the actual delivery of a message.
type Dispatcher interface {
	Dispatch(ctx context.Context, message *Message) error
}
