package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run boots the TUI program and blocks until it exits.
func Run(ctx context.Context, opts Options) error {
	_, err := run(ctx, opts, tea.WithAltScreen())
	return err
}

// run cancels the model's context as soon as the program exits, so a stream
// still in flight stops before the controller is closed.
func run(ctx context.Context, opts Options, extra ...tea.ProgramOption) (model, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var program *tea.Program
	m := newModel(ctx, opts, func(msg tea.Msg) { program.Send(msg) })
	program = tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, extra...)...)
	final, err := program.Run()
	cancel()
	fm, _ := final.(model)
	if fm.ctrl != nil {
		fm.ctrl.Close()
	}
	return fm, err
}
