// Package biometric provides keymanager.Confirmer implementations. Rendering a
// real biometric prompt belongs to the host platform; these confirmers cover
// terminals, headless agents and tests.
package biometric

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weticket/go-did-sdk/keymanager"
)

// Modes accepted by New.
const (
	ModeTerminal    = "terminal"
	ModeApprove     = "approve"
	ModeCancel      = "cancel"
	ModeUnavailable = "unavailable"
)

// Static always answers with the same confirmation.
type Static keymanager.Confirmation

// Confirm implements keymanager.Confirmer.
func (s Static) Confirm(ctx context.Context, _ keymanager.Prompt) (keymanager.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return keymanager.ConfirmCancelled, err
	}

	return keymanager.Confirmation(s), nil
}

// Terminal asks on out and reads a y/n answer from in. Prompts are serialized.
// A line only answers the prompt that was pending when it was read; late
// answers to an expired prompt are dropped.
type Terminal struct {
	mu      sync.Mutex
	in      io.Reader
	out     io.Writer
	start   sync.Once
	prompt  atomic.Uint64
	answers chan answer
}

// NewTerminal returns a Terminal confirmer.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, answers: make(chan answer, 1)}
}

type answer struct {
	line   string
	prompt uint64
}

// read feeds input lines to answers until the input ends.
func (t *Terminal) read() {
	lines := bufio.NewScanner(t.in)
	for lines.Scan() {
		t.answers <- answer{line: lines.Text(), prompt: t.prompt.Load()}
	}
	close(t.answers)
}

// Confirm implements keymanager.Confirmer. A closed input means no one can
// answer, which is reported as unavailable.
func (t *Terminal) Confirm(ctx context.Context, p keymanager.Prompt) (keymanager.Confirmation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.prompt.Add(1)
	if _, err := fmt.Fprintf(t.out, "%s [y/N]: ", p.Reason); err != nil {
		return keymanager.ConfirmUnavailable, err
	}

	t.start.Do(func() { go t.read() })

	for {
		select {
		case <-ctx.Done():
			return keymanager.ConfirmCancelled, ctx.Err()
		case a, ok := <-t.answers:
			if !ok {
				return keymanager.ConfirmUnavailable, nil
			}
			if a.prompt != current {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(a.line)) {
			case "y", "yes":
				return keymanager.ConfirmApproved, nil
			default:
				return keymanager.ConfirmCancelled, nil
			}
		}
	}
}

// timeout bounds how long a prompt may wait for the user.
type timeout struct {
	next keymanager.Confirmer
	d    time.Duration
}

// WithTimeout wraps c so that an unanswered prompt expires after d. Expiry is
// reported as a cancellation.
func WithTimeout(c keymanager.Confirmer, d time.Duration) keymanager.Confirmer {
	if d <= 0 {
		return c
	}

	return &timeout{next: c, d: d}
}

func (t *timeout) Confirm(ctx context.Context, p keymanager.Prompt) (keymanager.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	return t.next.Confirm(ctx, p)
}

// New builds the confirmer for mode.
func New(mode string, in io.Reader, out io.Writer, d time.Duration) (keymanager.Confirmer, error) {
	var c keymanager.Confirmer
	switch mode {
	case ModeTerminal:
		c = NewTerminal(in, out)
	case ModeApprove:
		c = Static(keymanager.ConfirmApproved)
	case ModeCancel:
		c = Static(keymanager.ConfirmCancelled)
	case ModeUnavailable:
		c = Static(keymanager.ConfirmUnavailable)
	default:
		return nil, fmt.Errorf("unknown biometric mode %q", mode)
	}

	return WithTimeout(c, d), nil
}
