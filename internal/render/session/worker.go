package session

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/encoder"
)

// CommandType tags a worker command.
type CommandType string

const (
	CommandStart  CommandType = "start"
	CommandCancel CommandType = "cancel"
)

// Command is one message into the worker. Start carries the serialized
// project and the encode settings; Cancel carries nothing.
type Command struct {
	Type     CommandType      `json:"type"`
	Project  json.RawMessage  `json:"project,omitempty"`
	Settings encoder.Settings `json:"settings,omitempty"`
}

// EventType tags a worker event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message out of the worker. Exactly one payload field is set
// per type. A cancelled export ends with a Progress event in the cancelled
// state and no Complete.
type Event struct {
	Type     EventType     `json:"type"`
	Progress *Progress     `json:"progress,omitempty"`
	Blob     *encoder.Blob `json:"-"`
	Err      string        `json:"error,omitempty"`
}

// Worker runs exports off a command channel, one at a time. Starting a new
// export cancels and drains the previous one first.
type Worker struct {
	pipeline Pipeline
	logger   *zap.Logger
	commands chan Command
	events   chan Event
}

// NewWorker creates an idle worker. Run must be called to process commands.
func NewWorker(pipeline Pipeline) *Worker {
	return &Worker{
		pipeline: pipeline,
		logger:   pipeline.logger(),
		commands: make(chan Command, 16),
		events:   make(chan Event, 256),
	}
}

// Commands is the channel to submit Start and Cancel on.
func (w *Worker) Commands() chan<- Command { return w.commands }

// Events is the channel progress, completion and errors arrive on.
func (w *Worker) Events() <-chan Event { return w.events }

// Run processes commands until ctx is done. The active export, if any, is
// cancelled on shutdown.
func (w *Worker) Run(ctx context.Context) {
	var (
		token *Token
		done  chan struct{}
	)

	for {
		select {
		case <-ctx.Done():
			if token != nil {
				token.Cancel()
				<-done
			}
			return

		case cmd := <-w.commands:
			switch cmd.Type {
			case CommandStart:
				if done != nil {
					token.Cancel()
					<-done
				}

				state, err := project.Parse(cmd.Project)
				if err != nil {
					w.emit(Event{Type: EventError, Err: err.Error()})
					token, done = nil, nil
					continue
				}

				token = NewToken()
				done = make(chan struct{})
				go w.export(ctx, state, cmd.Settings, token, done)

			case CommandCancel:
				if token != nil {
					token.Cancel()
				}
			}
		}
	}
}

func (w *Worker) export(ctx context.Context, state *project.State, settings encoder.Settings, token *Token, done chan struct{}) {
	defer close(done)

	sess := New(w.pipeline, state)
	blob, err := sess.Export(ctx, settings, token, func(p Progress) {
		w.emit(Event{Type: EventProgress, Progress: &p})
	})

	switch {
	case errors.Is(err, ErrCancelled):
		w.emit(Event{Type: EventProgress, Progress: &Progress{Status: StatusCancelled}})
	case err != nil:
		w.logger.Error("export failed", zap.Error(err))
		w.emit(Event{Type: EventError, Err: err.Error()})
	default:
		w.emit(Event{Type: EventComplete, Blob: blob})
	}
}

// emit delivers an event without ever blocking the export; if the consumer
// has fallen this far behind, the oldest events give way.
func (w *Worker) emit(event Event) {
	for {
		select {
		case w.events <- event:
			return
		default:
			select {
			case <-w.events:
			default:
			}
		}
	}
}
