package events

import (
	"context"
	"errors"

	"github.com/generatecover/api/internal/model"
)

// Publisher receives generation events
type Publisher interface {
	Publish(ctx context.Context, event model.GenerationEvent) error
}

// Fanout delivers each event to every publisher, joining their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event model.GenerationEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
