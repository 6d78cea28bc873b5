// Package notify delivers booking notifications by email and to the studio
// managers' Telegram chats.
package notify

import (
	"context"
	"errors"

	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// Dispatcher fans a notification out to every configured channel. Channel
// failures are logged and joined into the returned error.
type Dispatcher struct {
	channels []domain.Notifier
	logger   *zerolog.Logger
}

func NewDispatcher(logger *zerolog.Logger, channels ...domain.Notifier) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &Dispatcher{logger: logger}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, ch := range d.channels {
		if err := ch.Notify(ctx, n); err != nil {
			d.logger.Warn().Err(err).Str("kind", n.Kind).Msg("notification channel failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of configured channels.
func (d *Dispatcher) Len() int {
	return len(d.channels)
}
