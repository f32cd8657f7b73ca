package channels

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/valetd/valet/internal/bus"
	"github.com/valetd/valet/internal/journal"
)

// ConsoleChannel is an interactive stdin/stdout transport, mainly for local
// testing of the gateway without a Telegram token.
type ConsoleChannel struct {
	BaseChannel
	journal  *journal.Journal
	senderID string
}

func NewConsoleChannel(messageBus *bus.MessageBus, jnl *journal.Journal) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		journal:     jnl,
		senderID:    "local",
	}
}

func (c *ConsoleChannel) Name() string { return "console" }

// Start reads lines from stdin and publishes them inbound until EOF or ctx
// cancellation.
func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		_ = c.Send(ctx, msg)
	})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	color.Cyan("Console channel ready. Type a message, Ctrl-D to quit.")
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: c.senderID,
			ChatID:   c.senderID,
			TraceID:  uuid.NewString(),
			Content:  line,
		})
	}
	return scanner.Err()
}

func (c *ConsoleChannel) Stop() error { return nil }

// Send prints the reply and journals the delivery outcome. Writing to stdout
// cannot meaningfully fail, so this always records delivery_ok.
func (c *ConsoleChannel) Send(_ context.Context, msg *bus.OutboundMessage) error {
	fmt.Println(color.GreenString("valet>"), msg.Content)
	if c.journal != nil {
		c.journal.Record(journal.Entry{
			Kind:    journal.KindDeliveryOK,
			Summary: "reply delivered via console",
			UserKey: msg.UserKey,
		})
	}
	return nil
}
