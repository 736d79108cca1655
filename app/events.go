package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/dacut/hpc-lab-maker/interfaces"
)

var ErrInvalidEvent = errors.New("invalid event")

// LoadEvents reads event seed documents. Each YAML document in the stream
// holds either one event or a list of events.
func LoadEvents(r io.Reader) ([]*interfaces.Event, error) {
	var events []*interfaces.Event

	dec := yaml.NewDecoder(r)
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse event file: %w", err)
		}

		doc := &node
		if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
			doc = doc.Content[0]
		}

		switch doc.Kind {
		case yaml.SequenceNode:
			var batch []*interfaces.Event
			if err := doc.Decode(&batch); err != nil {
				return nil, fmt.Errorf("failed to decode events: %w", err)
			}
			events = append(events, batch...)
		case yaml.MappingNode:
			var event interfaces.Event
			if err := doc.Decode(&event); err != nil {
				return nil, fmt.Errorf("failed to decode event: %w", err)
			}
			events = append(events, &event)
		default:
			return nil, fmt.Errorf("%w: line %d: expected a mapping or a list", ErrInvalidEvent, doc.Line)
		}
	}

	for _, e := range events {
		if e.EventID == "" || e.EventID == interfaces.ReservedEventID {
			return nil, fmt.Errorf("%w: event id %q", ErrInvalidEvent, e.EventID)
		}
	}
	return events, nil
}

// PutEvents stores each event, keeping existing user id counters.
func (a *App) PutEvents(ctx context.Context, events []*interfaces.Event) error {
	for _, e := range events {
		if err := a.store.PutEvent(ctx, e); err != nil {
			return fmt.Errorf("failed to store event %s: %w", e.EventID, err)
		}
		a.log.Info("Stored event", "event_id", e.EventID)
	}
	return nil
}

// WriteEvent prints an event as YAML. Secrets are never printed.
func WriteEvent(w io.Writer, event *interfaces.Event) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(event); err != nil {
		return err
	}
	return enc.Close()
}
