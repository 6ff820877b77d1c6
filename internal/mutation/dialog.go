package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	StateEditing State = iota
	StateReviewing
	StateSubmitting
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateEditing:
		return "editing"
	case StateReviewing:
		return "reviewing"
	case StateSubmitting:
		return "submitting"
	case StateSettled:
		return "settled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrInvalidTransition = errors.New("invalid dialog transition")
	ErrInFlight          = errors.New("submission already in flight")
)

// Dialog is the two-step confirm flow shared by every mutation:
//
//	Editing -> Reviewing -> Submitting -> Settled
//	                             \-> Editing (on failure, input kept)
//
// P is the payload the user enters; commit performs the mutation.
type Dialog[P any] struct {
	mu       sync.Mutex
	state    State
	input    P
	lastErr  error
	validate func(P) error
	commit   func(context.Context, P) error
}

func NewDialog[P any](validate func(P) error, commit func(context.Context, P) error) *Dialog[P] {
	return &Dialog[P]{validate: validate, commit: commit}
}

func (d *Dialog[P]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dialog[P]) Input() P {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.input
}

// Err returns the error of the last failed review or submission.
func (d *Dialog[P]) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// CanConfirm reports whether the confirm action is enabled.
func (d *Dialog[P]) CanConfirm() bool {
	return d.State() == StateReviewing
}

func (d *Dialog[P]) Edit(input P) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateEditing {
		return fmt.Errorf("%w: edit while %s", ErrInvalidTransition, d.state)
	}
	d.input = input
	return nil
}

// Review moves to Reviewing if the input passes validation.
func (d *Dialog[P]) Review() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateEditing {
		return fmt.Errorf("%w: review while %s", ErrInvalidTransition, d.state)
	}
	if d.validate != nil {
		if err := d.validate(d.input); err != nil {
			d.lastErr = err
			return err
		}
	}
	d.lastErr = nil
	d.state = StateReviewing
	return nil
}

// Back returns from Reviewing to Editing.
func (d *Dialog[P]) Back() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReviewing {
		return fmt.Errorf("%w: back while %s", ErrInvalidTransition, d.state)
	}
	d.state = StateEditing
	return nil
}

// Confirm submits the reviewed input. Only one submission may be in flight.
func (d *Dialog[P]) Confirm(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateReviewing:
	case StateSubmitting:
		d.mu.Unlock()
		return ErrInFlight
	default:
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: confirm while %s", ErrInvalidTransition, state)
	}
	d.state = StateSubmitting
	input := d.input
	d.mu.Unlock()

	err := d.commit(ctx, input)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = StateEditing
		d.lastErr = err
		return err
	}
	var zero P
	d.input = zero
	d.lastErr = nil
	d.state = StateSettled
	return nil
}
