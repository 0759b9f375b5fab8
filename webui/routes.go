package webui

import (
	"crypto/subtle"
	"errors"

	"github.com/dave-gray101/v2keyauth"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	"github.com/mudler/LocalEntity/core/sse"
	"github.com/mudler/LocalEntity/core/types"
	"github.com/mudler/LocalEntity/webui/views"
)

func (a *App) registerRoutes(webapp *fiber.App) {
	if len(a.config.ApiKeys) > 0 {
		kaConfig, err := GetKeyAuthConfig(a.config.ApiKeys)
		if err != nil || kaConfig == nil {
			panic(err)
		}
		webapp.Use(v2keyauth.New(*kaConfig))
	}

	webapp.Get("/", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/html")
		return c.SendString(views.Index(a.runtime.Model()))
	})

	webapp.Get("/api/status", a.Status())
	webapp.Post("/api/signal", a.Signal())

	webapp.Get("/sse", func(c *fiber.Ctx) error {
		a.manager.Handle(c, sse.NewClient())
		return nil
	})
}

// Status reports the runtime's observable state as JSON.
func (a *App) Status() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		narration := ""
		if thought, ok := a.runtime.LastThought(); ok {
			narration = thought.Narration
		}
		return c.JSON(fiber.Map{
			"running":         a.runtime.IsRunning(),
			"model":           a.runtime.Model(),
			"tools":           a.runtime.ToolNames(),
			"memories":        a.runtime.MemoryCount(),
			"pending_signals": a.runtime.PendingSignals(),
			"task_state":      string(a.runtime.BrainState()),
			"actions":         len(a.runtime.BrainHistory()),
			"last_thought":    narration,
		})
	}
}

// Signal feeds a message into the entity as an external signal.
func (a *App) Signal() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		payload := struct {
			Message string `json:"message"`
			Source  string `json:"source"`
		}{}
		if err := c.BodyParser(&payload); err != nil {
			return errorJSONMessage(c, err.Error())
		}
		if payload.Message == "" {
			return errorJSONMessage(c, "message is required")
		}
		if !a.runtime.IsRunning() {
			return errorJSONMessage(c, "entity is not running")
		}
		source := payload.Source
		if source == "" {
			source = types.SourceUser
		}
		a.runtime.InputSignal(payload.Message, source)
		a.config.Logger.Info("signal accepted", "source", source)
		a.manager.Send(sse.NewEvent(sse.EventSignal, fiber.Map{
			"source":  source,
			"message": payload.Message,
		}))
		return statusJSONMessage(c, "accepted")
	}
}

func errorJSONMessage(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func statusJSONMessage(c *fiber.Ctx, message string) error {
	return c.JSON(fiber.Map{"status": message})
}

// GetKeyAuthConfig builds the key-auth middleware config accepting the key
// from the Authorization header, x-api-key, or a token cookie.
func GetKeyAuthConfig(apiKeys []string) (*v2keyauth.Config, error) {
	customLookup, err := v2keyauth.MultipleKeySourceLookup(
		[]string{"header:Authorization", "header:x-api-key", "cookie:token"},
		keyauth.ConfigDefault.AuthScheme)
	if err != nil {
		return nil, err
	}

	return &v2keyauth.Config{
		CustomKeyLookup: customLookup,
		Next:            func(c *fiber.Ctx) bool { return false },
		Validator:       getApiKeyValidationFunction(apiKeys),
		ErrorHandler:    getApiKeyErrorHandler(apiKeys),
		AuthScheme:      "Bearer",
	}, nil
}

func getApiKeyErrorHandler(apiKeys []string) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		if errors.Is(err, v2keyauth.ErrMissingOrMalformedAPIKey) {
			if len(apiKeys) == 0 {
				return ctx.Next()
			}
			ctx.Set("WWW-Authenticate", "Bearer")
			return ctx.SendStatus(fiber.StatusUnauthorized)
		}
		return err
	}
}

func getApiKeyValidationFunction(apiKeys []string) func(*fiber.Ctx, string) (bool, error) {
	return func(ctx *fiber.Ctx, apiKey string) (bool, error) {
		if len(apiKeys) == 0 {
			return true, nil
		}
		for _, validKey := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				return true, nil
			}
		}
		return false, v2keyauth.ErrMissingOrMalformedAPIKey
	}
}
