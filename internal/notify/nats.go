// ABOUTME: NATS publisher and relay for appended thread items
// ABOUTME: Lets several gateway instances share live item notifications

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tomifer13/EndoBot/internal/store"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "endobot.threads"

// ItemMessage is the wire form of an appended item.
type ItemMessage struct {
	ItemID    string               `json:"item_id"`
	ThreadID  string               `json:"thread_id"`
	Seq       int64                `json:"seq"`
	Role      string               `json:"role"`
	Content   []store.ContentBlock `json:"content"`
	CreatedAt time.Time            `json:"created_at"`
}

func toMessage(item *store.Item) ItemMessage {
	return ItemMessage{
		ItemID:    item.ID,
		ThreadID:  item.ThreadID,
		Seq:       item.Seq,
		Role:      string(item.Role),
		Content:   item.Content,
		CreatedAt: item.CreatedAt,
	}
}

// Item converts the message back into a store item.
func (m ItemMessage) Item() *store.Item {
	return &store.Item{
		ID:        m.ItemID,
		ThreadID:  m.ThreadID,
		Seq:       m.Seq,
		Role:      store.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Publisher sends items to NATS under <prefix>.<thread>.items.
type Publisher struct {
	conn   conn
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS. The connection retries in the background, so an
// unreachable server at startup is not fatal. NoEcho keeps the relay from
// receiving this instance's own publications.
func Connect(ctx context.Context, url, token, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")

	opts := []nats.Option{
		nats.Name("endobot"),
		nats.NoEcho(),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("nats publisher ready", "url", url)
	return newPublisher(nc, prefix, logger), nil
}

func newPublisher(c conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: c, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject items of threadID are published on.
func (p *Publisher) Subject(threadID string) string {
	return p.prefix + "." + subjectToken(threadID) + ".items"
}

// PublishItem sends one item. NATS publishes are buffered, so ctx is only
// checked before sending.
func (p *Publisher) PublishItem(ctx context.Context, item *store.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(toMessage(item))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if err := p.conn.Publish(p.Subject(item.ThreadID), payload); err != nil {
		return fmt.Errorf("publish item: %w", err)
	}
	return nil
}

// Relay subscribes to items published by other instances and hands each one
// to handler. Undecodable messages are logged and skipped.
func (p *Publisher) Relay(handler func(*store.Item)) error {
	subject := p.prefix + ".*.items"
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		var m ItemMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			p.logger.Warn("dropping undecodable item message", "subject", msg.Subject, "error", err)
			return
		}
		handler(m.Item())
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	p.logger.Info("relaying items", "subject", subject)
	return nil
}

// Close unsubscribes and closes the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	p.subs = nil
	p.mu.Unlock()

	p.conn.Close()
}

// subjectToken makes s safe to use as one NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
