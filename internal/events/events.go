// Package events publishes "snapshot replaced" notifications to
// downstream subscribers. Delivery is best effort.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"listing-snapshot-api/internal/model"
)

// ErrPublishFailed wraps any failure to hand a notification to the bus.
var ErrPublishFailed = errors.New("events: publish failed")

// Publisher fans a committed snapshot out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, snapshot *model.Snapshot) error
	Close() error
}

// NopPublisher drops every notification.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, snapshot *model.Snapshot) error { return nil }
func (NopPublisher) Close() error                                                { return nil }

func encode(snapshot *model.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: encode snapshot %s: %w", ErrPublishFailed, snapshot.SKU, err)
	}
	return body, nil
}

func publishFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrPublishFailed, err)
}
