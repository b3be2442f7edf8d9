// Package messenger is the outbound transport contract shared by command
// handlers and scheduled jobs.
package messenger

import (
	"context"
	"fmt"
)

// Kind classifies the result of a single send
type Kind int

const (
	// Delivered means the platform accepted the message
	Delivered Kind = iota
	// PermanentlyBlocked means the recipient blocked the bot or removed it
	// from the chat. Further sends will fail the same way.
	PermanentlyBlocked
	// TransientError covers everything else: network, rate limit, timeouts
	TransientError
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case PermanentlyBlocked:
		return "blocked"
	case TransientError:
		return "transient_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the tagged result of a send. Err is nil only when delivered.
type Outcome struct {
	Kind Kind
	Err  error
}

// OK reports whether the message was delivered
func (o Outcome) OK() bool {
	return o.Kind == Delivered
}

// Blocked reports whether the recipient should be deactivated
func (o Outcome) Blocked() bool {
	return o.Kind == PermanentlyBlocked
}

// ParseMode selects how the platform interprets message text
type ParseMode string

const (
	PlainText ParseMode = ""
	HTML      ParseMode = "HTML"
)

// Document is a file attachment read from disk
type Document struct {
	Path string
	// Name overrides the file name shown to the recipient
	Name string
}

// Messenger sends messages to chats
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, mode ParseMode) Outcome
	SendDocument(ctx context.Context, chatID int64, doc Document, caption string) Outcome
}

// Delivery returns a Delivered outcome
func Delivery() Outcome {
	return Outcome{Kind: Delivered}
}

// Blocked returns a PermanentlyBlocked outcome wrapping err
func Blocked(err error) Outcome {
	return Outcome{Kind: PermanentlyBlocked, Err: err}
}

// Transient returns a TransientError outcome wrapping err
func Transient(err error) Outcome {
	return Outcome{Kind: TransientError, Err: err}
}
