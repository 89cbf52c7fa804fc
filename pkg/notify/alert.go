package notify

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
)

// Alert describes the chat-list activity that triggered a notification.
type Alert struct {
	RoomID      string
	From        string
	LastMessage string
}

// Alerter delivers one alert.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// Multi fans one alert out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, alerter := range m {
		if alerter == nil {
			continue
		}
		if err := alerter.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Bell rings the terminal bell. There is one per process, opened lazily on
// first use.
type Bell struct {
	out io.Writer
	mu  sync.Mutex
}

var (
	bellOnce sync.Once
	bell     *Bell
)

// DefaultBell returns the process-wide bell, constructing it on first call.
func DefaultBell() *Bell {
	bellOnce.Do(func() {
		bell = &Bell{out: os.Stderr}
	})

	return bell
}

// NewBell returns a bell writing to out. Tests use it instead of DefaultBell.
func NewBell(out io.Writer) *Bell {
	return &Bell{out: out}
}

func (b *Bell) Alert(_ context.Context, _ Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := io.WriteString(b.out, "\a")
	return err
}
