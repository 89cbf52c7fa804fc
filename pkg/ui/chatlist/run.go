package chatlist

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"chatsync/pkg/bus"
	"chatsync/pkg/view"
)

// Session is the chat-list channel the screen drives.
type Session interface {
	Run(ctx context.Context) error
	Close()
	Subscribe(ctx context.Context) (<-chan bus.Event, func())
}

// Surface forwards chat-list snapshots into the running program.
type Surface struct {
	program *tea.Program
}

func (s *Surface) RenderChatList(summaries []view.Summary) {
	if s.program != nil {
		s.program.Send(renderMsg{summaries: summaries})
	}
}

// Run shows the chat list until the user quits or picks a conversation.
// chosen is nil when nothing was picked. err is the session's terminal
// error, nil after a normal quit.
func Run(ctx context.Context, build func(view.ChatListSurface) (Session, error)) (chosen *view.Summary, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	surface := &Surface{}
	session, err := build(surface)
	if err != nil {
		return nil, err
	}

	m := newModel()
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
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
		return nil, runErr
	}
	return m.chosen, sessionErr
}
