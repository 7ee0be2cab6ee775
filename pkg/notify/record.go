// Package notify aggregates proxy errors into per-category queues and
// delivers them, rate limited, to an operator channel.
package notify

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Categorizer lets an error name its own notification category. Errors
// that do not implement it are grouped by their Go type name, the closest
// analog to grouping by exception class.
type Categorizer interface {
	Category() string
}

// Record is one enqueued error: its category, message, the stack captured
// at enqueue time, and when it was enqueued.
type Record struct {
	ID         uuid.UUID
	Category   string
	Message    string
	Stack      string
	EnqueuedAt time.Time
}

// NewRecord builds a Record for err, capturing the current stack.
func NewRecord(err error) *Record {
	return &Record{
		ID:         uuid.New(),
		Category:   categorize(err),
		Message:    err.Error(),
		Stack:      string(debug.Stack()),
		EnqueuedAt: time.Now(),
	}
}

func categorize(err error) string {
	var categorizer Categorizer
	if errors.As(err, &categorizer) {
		return categorizer.Category()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// formatMessage renders the notification for a drained batch. Only the
// first record's message and stack are included; larger batches get a
// trailing line carrying the aggregate count.
func formatMessage(records []*Record) string {
	first := records[0]

	var b strings.Builder
	fmt.Fprintf(&b, "💥 **Instaproxy error (%s): %s**\n", first.Category, first.Message)
	b.WriteString("\n```\n")
	b.WriteString(strings.TrimRight(first.Stack, "\n"))
	b.WriteString("\n```")

	if len(records) > 1 {
		fmt.Fprintf(&b, "\n\nThis error occurred %d times, only the first stack trace is attached", len(records))
	}

	return b.String()
}
