package queue

import (
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"

    "github.com/alecthomas/assert/v2"
)

func TestHandleMessageAppendsLine(t *testing.T) {
    dir := filepath.Join(t.TempDir(), "logs")
    c := NewConsumer("", "", dir)

    ev := LedgerEvent{
        ID:           "3f2a",
        Type:         EventEntryCreated,
        CustomerID:   7,
        CustomerName: "Ana",
        EntryID:      42,
        ChangeAmount: -1,
        Delta:        -1,
        Balance:      9,
        MealType:     "Lunch",
        Note:         "Redemption",
        EffectiveAt:  "2025-03-10T09:00:00Z",
        OccurredAt:   "2025-03-10T09:00:01Z",
    }
    body, err := json.Marshal(ev)
    assert.NoError(t, err)

    assert.NoError(t, c.HandleMessage(body))
    assert.NoError(t, c.HandleMessage(body))

    raw, err := os.ReadFile(filepath.Join(dir, LogFileName))
    assert.NoError(t, err)
    lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
    assert.Equal(t, 2, len(lines))
    assert.Equal(t, strings.TrimRight(FormatLine(ev), "\n"), lines[0])
    assert.Contains(t, lines[0], "entry.created")
    assert.Contains(t, lines[0], "entry_id=42")
    assert.Contains(t, lines[0], "meal=Lunch")
}

func TestHandleMessageRejectsBadPayload(t *testing.T) {
    c := NewConsumer("", "", t.TempDir())
    assert.Error(t, c.HandleMessage([]byte("{not json")))
    assert.Error(t, c.HandleMessage([]byte(`{"customer_id":1}`)))
}

func TestFormatLineCustomerEvent(t *testing.T) {
    line := FormatLine(LedgerEvent{
        ID:           "id-1",
        Type:         EventCustomerDeleted,
        CustomerID:   3,
        CustomerName: "Ben",
        Note:         "2 entries removed",
        OccurredAt:   "2025-03-10T09:00:00Z",
    })
    assert.Equal(t,
        "[2025-03-10T09:00:00Z] customer.deleted | id=id-1 | customer_id=3 | customer=\"Ben\" | note=\"2 entries removed\"\n",
        line)
}

func TestNewPublisherDefaults(t *testing.T) {
    p := NewPublisher("", "")
    assert.Equal(t, DefaultURL, p.url)
    assert.Equal(t, DefaultLedgerQueue, p.queue)
}
