package desk

import (
	"context"
	"fmt"
	"time"

	"github.com/jc211/panda-desk/status"
)

// OpenStatus subscribes to topic using this client's session. The caller
// owns the channel and must close it.
func (d *Desk) OpenStatus(ctx context.Context, topic status.Topic) (*status.Channel, error) {
	token := d.sessionToken()
	if token == "" {
		return nil, fmt.Errorf("%w: not logged in", status.ErrConnect)
	}
	opts := d.statusOpts
	opts.BaseURL = d.baseURL.String()
	opts.Topic = topic
	opts.Token = token
	opts.Dialer = d.dialer
	return status.Open(ctx, opts)
}

// WaitForPress opens a navigation channel and waits for b to be pressed.
// It reports false with a nil error if timeout elapses first.
func (d *Desk) WaitForPress(ctx context.Context, b status.Button, timeout time.Duration) (bool, error) {
	nav, err := d.OpenStatus(ctx, status.Navigation)
	if err != nil {
		return false, err
	}
	defer nav.Close()
	return nav.WaitForPress(ctx, b, timeout)
}

// WaitForRelease is WaitForPress for the released transition.
func (d *Desk) WaitForRelease(ctx context.Context, b status.Button, timeout time.Duration) (bool, error) {
	nav, err := d.OpenStatus(ctx, status.Navigation)
	if err != nil {
		return false, err
	}
	defer nav.Close()
	return nav.WaitForRelease(ctx, b, timeout)
}

// Watch opens topic and subscribes to its events with the configured
// buffer. cancel ends the subscription but leaves the channel open; closing
// the channel ends the stream too.
func (d *Desk) Watch(ctx context.Context, topic status.Topic) (*status.Channel, <-chan status.Event, func(), error) {
	ch, err := d.OpenStatus(ctx, topic)
	if err != nil {
		return nil, nil, nil, err
	}
	events, cancel := ch.Subscribe(d.eventBuffer)
	return ch, events, cancel, nil
}
