package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// LogFileName is the file, inside the consumer's log directory, that ledger
// events are appended to.
const LogFileName = "ledger.log"

// Consumer reads ledger events from the queue and appends one line per
// event to <dir>/ledger.log, producing an audit trail that lives outside
// the primary database.
type Consumer struct {
    url   string
    queue string
    dir   string

    mu sync.Mutex // serializes writes to the log file
}

// NewConsumer returns a Consumer.  Empty values fall back to DefaultURL,
// DefaultLedgerQueue and the "logs" directory.
func NewConsumer(url, queue, dir string) *Consumer {
    if url == "" {
        url = DefaultURL
    }
    if queue == "" {
        queue = DefaultLedgerQueue
    }
    if dir == "" {
        dir = "logs"
    }
    return &Consumer{url: url, queue: queue, dir: dir}
}

// Run connects to the broker and consumes until ctx is cancelled.  Lost
// connections are re-established with exponential backoff capped at 30s.
// Messages that cannot be handled are rejected without requeue so a bad
// payload cannot loop forever.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.url)
        if err != nil {
            log.Printf("ledger-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Printf("ledger-consumer: consume loop ended: %v; reconnecting", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Printf("ledger-consumer: set QoS failed: %v", err)
    }
    if err := declare(ch, c.queue); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.HandleMessage(d.Body); err != nil {
                log.Printf("ledger-consumer: handle message failed: %v", err)
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// HandleMessage decodes one event body and appends it to the log file.
func (c *Consumer) HandleMessage(body []byte) error {
    var ev LedgerEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return errors.New("event without type")
    }

    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(c.dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", c.dir, err)
    }
    f, err := os.OpenFile(filepath.Join(c.dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(FormatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatLine renders an event as a single human-readable log line.
func FormatLine(ev LedgerEvent) string {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | id=%s | customer_id=%d | customer=%q", ev.OccurredAt, ev.Type, ev.ID, ev.CustomerID, ev.CustomerName)
    if ev.EntryID != 0 {
        fmt.Fprintf(&b, " | entry_id=%d | change=%d | payment=%d | delta=%d | balance=%d | effective=%s",
            ev.EntryID, ev.ChangeAmount, ev.PaymentAmount, ev.Delta, ev.Balance, ev.EffectiveAt)
    }
    if ev.MealType != "" {
        fmt.Fprintf(&b, " | meal=%s", ev.MealType)
    }
    if ev.Note != "" {
        fmt.Fprintf(&b, " | note=%q", ev.Note)
    }
    b.WriteByte('\n')
    return b.String()
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
