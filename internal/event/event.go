// Package event defines the envelope exchanged over the broker: a pipeline
// command, the status attached to it, and a payload that is either a full
// crawler definition (external) or a single page record (internal).
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parsera-labs/dispatch/internal/model"
)

// Command names one pipeline stage operation.
type Command string

// Pipeline commands.
const (
	CommandRegisterCrawler Command = "register_crawler"
	CommandScrapePage      Command = "scrape_page"
	CommandExtractPage     Command = "extract_page"
	CommandStorePage       Command = "store_page"
	CommandNotifyUser      Command = "notify_user"
	CommandSleep           Command = "sleep"
)

// Status qualifies a command: requested, finished, or failed.
type Status string

// Command statuses.
const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Sentinel errors for boundary rejection. Both classes mark a message as
// structurally invalid: redelivery cannot fix it.
var (
	ErrMalformed    = errors.New("malformed event envelope")
	ErrPayloadShape = errors.New("payload shape does not match command")
)

var knownCommands = map[Command]bool{
	CommandRegisterCrawler: true,
	CommandScrapePage:      true,
	CommandExtractPage:     true,
	CommandStorePage:       true,
	CommandNotifyUser:      true,
	CommandSleep:           true,
}

var knownStatuses = map[Status]bool{
	StatusPending: true,
	StatusDone:    true,
	StatusFailed:  true,
}

// Data is the two-variant payload union. Exactly one field is non-nil on a
// valid envelope.
type Data struct {
	External *model.Crawler
	Internal *model.Page
}

// Envelope is the unit of work flowing through the broker.
type Envelope struct {
	Command Command
	Status  Status
	Data    Data
}

// NewExternal builds an envelope carrying a crawler definition.
func NewExternal(cmd Command, status Status, c model.Crawler) Envelope {
	return Envelope{Command: cmd, Status: status, Data: Data{External: &c}}
}

// NewInternal builds an envelope carrying a page record.
func NewInternal(cmd Command, status Status, p model.Page) Envelope {
	return Envelope{Command: cmd, Status: status, Data: Data{Internal: &p}}
}

// NewScrapeEvent synthesizes the scrape_page(pending) event for a freshly
// registered crawler's start page.
func NewScrapeEvent(c model.Crawler) Envelope {
	return NewInternal(CommandScrapePage, StatusPending, model.StartPage(c))
}

// Validate enforces the command/payload pairing invariant: register_crawler
// carries an external payload, every other command carries an internal one.
func (e Envelope) Validate() error {
	if !knownCommands[e.Command] {
		return fmt.Errorf("%w: unknown command %q", ErrMalformed, e.Command)
	}
	if !knownStatuses[e.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, e.Status)
	}
	external := e.Data.External != nil
	internal := e.Data.Internal != nil
	if external == internal {
		return fmt.Errorf("%w: exactly one payload variant required", ErrMalformed)
	}
	if e.Command == CommandRegisterCrawler && !external {
		return fmt.Errorf("%w: %s requires an external payload", ErrPayloadShape, e.Command)
	}
	if e.Command != CommandRegisterCrawler && !internal {
		return fmt.Errorf("%w: %s requires an internal payload", ErrPayloadShape, e.Command)
	}
	return nil
}

// wireEnvelope mirrors the serialized layout: the status is nested under the
// command tag and the payload under its variant tag, e.g.
//
//	{"command": {"scrape_page": "pending"}, "data": {"internal": {...}}}
type wireEnvelope struct {
	Command map[Command]Status         `json:"command"`
	Data    map[string]json.RawMessage `json:"data"`
}

// MarshalJSON encodes the envelope in the tagged wire layout.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Command: map[Command]Status{e.Command: e.Status},
		Data:    make(map[string]json.RawMessage, 1),
	}
	switch {
	case e.Data.External != nil:
		raw, err := json.Marshal(e.Data.External)
		if err != nil {
			return nil, fmt.Errorf("marshal external payload: %w", err)
		}
		w.Data["external"] = raw
	case e.Data.Internal != nil:
		raw, err := json.Marshal(e.Data.Internal)
		if err != nil {
			return nil, fmt.Errorf("marshal internal payload: %w", err)
		}
		w.Data["internal"] = raw
	default:
		return nil, fmt.Errorf("%w: no payload set", ErrMalformed)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged wire layout, rejecting unknown or
// ambiguous tags at the boundary instead of deferring to a default branch.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(w.Command) != 1 {
		return fmt.Errorf("%w: command must carry exactly one tag", ErrMalformed)
	}
	for cmd, status := range w.Command {
		if !knownCommands[cmd] {
			return fmt.Errorf("%w: unknown command %q", ErrMalformed, cmd)
		}
		if !knownStatuses[status] {
			return fmt.Errorf("%w: unknown status %q", ErrMalformed, status)
		}
		e.Command = cmd
		e.Status = status
	}
	if len(w.Data) != 1 {
		return fmt.Errorf("%w: data must carry exactly one tag", ErrMalformed)
	}
	e.Data = Data{}
	for tag, raw := range w.Data {
		switch tag {
		case "external":
			var c model.Crawler
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("%w: decode external payload: %v", ErrMalformed, err)
			}
			e.Data.External = &c
		case "internal":
			var p model.Page
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("%w: decode internal payload: %v", ErrMalformed, err)
			}
			e.Data.Internal = &p
		default:
			return fmt.Errorf("%w: unknown payload tag %q", ErrMalformed, tag)
		}
	}
	return nil
}

// Decode parses and validates a serialized envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Encode serializes a validated envelope.
func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
