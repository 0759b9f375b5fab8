package webui

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mudler/LocalEntity/core/brain"
	"github.com/mudler/LocalEntity/core/sse"
	"github.com/mudler/LocalEntity/core/types"
)

// Runtime is the slice of the entity the monitor observes and drives.
// Satisfied by *entity.Entity.
type Runtime interface {
	IsRunning() bool
	InputSignal(text, source string)
	Model() string
	ToolNames() []string
	MemoryCount() int
	PendingSignals() int
	BrainState() brain.TaskState
	BrainHistory() []types.Action
	SpiritContext() []string
	LastThought() (types.Thought, bool)
	OnThought(fn func(types.Thought))
	OnAction(fn func(types.Action))
	OnOutput(fn func(string))
}

// App is the observability monitor: a status page, a JSON API, and an SSE
// stream of thoughts, actions, and outputs.
type App struct {
	runtime Runtime
	manager sse.Manager
	config  *Config
	*fiber.App
}

// NewApp builds the monitor around a running (or startable) entity and
// subscribes to its event callbacks.
func NewApp(runtime Runtime, opts ...Option) *App {
	config := NewConfig(opts...)

	webapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	a := &App{
		runtime: runtime,
		manager: sse.NewManager(config.WorkerPoolSize),
		config:  config,
		App:     webapp,
	}

	a.subscribe()
	a.registerRoutes(webapp)
	return a
}

// subscribe mirrors the entity's observability callbacks onto the SSE stream.
func (a *App) subscribe() {
	a.runtime.OnThought(func(t types.Thought) {
		a.manager.Send(sse.NewEvent(sse.EventThought, fiber.Map{
			"narration": t.Narration,
			"analysis":  t.Analysis,
			"commands":  len(t.Commands),
		}))
	})
	a.runtime.OnAction(func(action types.Action) {
		payload := fiber.Map{
			"type":    string(action.Type),
			"content": action.Content,
			"success": action.Success,
		}
		if action.Error != "" {
			payload["error"] = action.Error
		}
		a.manager.Send(sse.NewEvent(sse.EventAction, payload))
	})
	a.runtime.OnOutput(func(text string) {
		a.manager.Send(sse.NewEvent(sse.EventOutput, fiber.Map{"text": text}))
	})
}
