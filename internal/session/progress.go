package session

import (
	"fmt"

	"github.com/eugenetaranov/trs/internal/console"
)

// consoleProgress renders a file transfer as a SEND FILE progress bar. Each
// update takes the console lock on its own.
type consoleProgress struct {
	console *console.Shared
	body    string
	started bool
}

func (p *consoleProgress) Start(total int64) {
	p.started = true
	_ = p.console.Do(func(r console.Reporter) error {
		r.BeginProgress(titleSendFile, p.body, fmt.Sprintf("%d/0", total))
		return nil
	})
}

func (p *consoleProgress) Block(sent, total int64, percent float32) {
	_ = p.console.Do(func(r console.Reporter) error {
		if err := r.UpdateBarTitle(fmt.Sprintf("%d/%d", total, sent)); err != nil {
			return err
		}
		return r.SetProgress(percent)
	})
}

func (p *consoleProgress) Done() {
	_ = p.console.Do(func(r console.Reporter) error {
		if err := r.SetProgress(100); err != nil {
			return err
		}
		return r.Complete()
	})
}

// fail reports err under the bar, or on a SEND FILE line of its own when
// the transfer never started.
func (p *consoleProgress) fail(text string) {
	if !p.started {
		p.console.LineError(titleSendFile, p.body, text)
		return
	}
	p.console.Error(text)
}
