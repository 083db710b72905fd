package wa

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

const (
	eventBuffer = 16

	pairClientName = "Chrome (Linux)"
)

type client struct {
	wm        *whatsmeow.Client
	logger    zerolog.Logger
	events    chan Event
	handlerID uint32
}

func (c *client) Connect() error {
	return c.wm.Connect()
}

func (c *client) PairPhone(ctx context.Context, phoneNumber string) (string, error) {
	code, err := c.wm.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, pairClientName)
	if err != nil {
		return "", fmt.Errorf("requesting pairing code: %w", err)
	}
	return code, nil
}

func (c *client) Events() <-chan Event {
	return c.events
}

func (c *client) IsLoggedIn() bool {
	return c.wm.IsLoggedIn()
}

func (c *client) Disconnect() {
	c.wm.RemoveEventHandler(c.handlerID)
	c.wm.Disconnect()
}

func (c *client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.push(Event{Kind: EventOpen})
	case *events.PairSuccess:
		c.push(Event{Kind: EventPairSuccess})
	case *events.PairError:
		c.push(Event{Kind: EventConnectFailure, Err: fmt.Errorf("pairing rejected: %w", v.Error)})
	case *events.Disconnected:
		c.push(Event{Kind: EventClosed})
	case *events.StreamReplaced:
		c.push(Event{Kind: EventClosed, Err: fmt.Errorf("stream replaced by another client")})
	case *events.LoggedOut:
		c.push(Event{Kind: EventLoggedOut, Err: fmt.Errorf("logged out: %s", v.Reason)})
	case *events.ConnectFailure:
		c.push(Event{Kind: EventConnectFailure, Err: fmt.Errorf("connect failure: %s (%s)", v.Reason, v.Message)})
	case *events.TemporaryBan:
		c.push(Event{Kind: EventConnectFailure, Err: fmt.Errorf("temporary ban: %s, expires in %s", v.Code, v.Expire)})
	}
}

// push never blocks; the consumer owns the session event loop and a full
// buffer means it is gone or badly behind.
func (c *client) push(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn().Str("kind", string(e.Kind)).Msg("Dropping connection event, consumer not keeping up")
	}
}
