package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"chatsync/pkg/bus"
	"chatsync/pkg/view"
)

// Options configure the conversation screen.
type Options struct {
	Title  string
	SelfID int64
}

// Session is the conversation the screen drives.
type Session interface {
	Run(ctx context.Context) error
	Close()
	Submit(ctx context.Context, input string) (bool, error)
	Subscribe(ctx context.Context) (<-chan bus.Event, func())
}

// Surface forwards view updates into the running program.
type Surface struct {
	program *tea.Program
}

func (s *Surface) AppendMessage(entry view.Entry) {
	s.send(entryMsg{entry: entry})
}

func (s *Surface) ScrollToBottom() {
	s.send(scrollMsg{})
}

func (s *Surface) send(msg tea.Msg) {
	if s.program != nil {
		s.program.Send(msg)
	}
}

// Run shows the conversation until the user quits. build receives the
// surface the session renders to. The returned error is the session's
// terminal error, nil after a normal quit.
func Run(ctx context.Context, opts Options, build func(view.ConversationSurface) (Session, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	surface := &Surface{}
	session, err := build(surface)
	if err != nil {
		return err
	}

	program := tea.NewProgram(newModel(ctx, session.Submit, opts), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	surface.program = program

	events, unsubscribe := session.Subscribe(ctx)
	defer unsubscribe()
	go func() {
		for event := range events {
			program.Send(statusMsg{event: event})
		}
	}()

	sessionDone := make(chan error, 1)
	go func() {
		err := session.Run(ctx)
		sessionDone <- err
		program.Send(endedMsg{err: err})
	}()

	_, runErr := program.Run()
	session.Close()
	sessionErr := <-sessionDone

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return sessionErr
}
