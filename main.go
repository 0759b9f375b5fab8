package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mudler/LocalEntity/core/entity"
	"github.com/mudler/LocalEntity/core/memory"
	"github.com/mudler/LocalEntity/core/tools"
	"github.com/mudler/LocalEntity/pkg/config"
	"github.com/mudler/LocalEntity/pkg/llm"
	"github.com/mudler/LocalEntity/pkg/xlog"
	builtin "github.com/mudler/LocalEntity/services/tools"
	"github.com/mudler/LocalEntity/webui"
)

var model = os.Getenv("LOCALENTITY_MODEL")
var apiURL = os.Getenv("LOCALENTITY_LLM_API_URL")
var apiKey = os.Getenv("LOCALENTITY_LLM_API_KEY")
var provider = os.Getenv("LOCALENTITY_PROVIDER")
var timeout = os.Getenv("LOCALENTITY_TIMEOUT")
var stateDir = os.Getenv("LOCALENTITY_STATE_DIR")
var personalityFile = os.Getenv("LOCALENTITY_PERSONALITY_FILE")
var monitorAddress = os.Getenv("LOCALENTITY_MONITOR_ADDRESS")
var apiKeysEnv = os.Getenv("LOCALENTITY_API_KEYS")
var logLevel = os.Getenv("LOCALENTITY_LOG_LEVEL")
var embeddingModel = os.Getenv("LOCALENTITY_EMBEDDING_MODEL")
var webhookURL = os.Getenv("LOCALENTITY_WEBHOOK_URL")
var sshBoxHost = os.Getenv("LOCALENTITY_SSHBOX_HOST")
var sshBoxUser = os.Getenv("LOCALENTITY_SSHBOX_USER")
var sshBoxKey = os.Getenv("LOCALENTITY_SSHBOX_KEY")
var mcpServersEnv = os.Getenv("LOCALENTITY_MCP_SERVERS")
var unsafeMode = os.Getenv("LOCALENTITY_UNSAFE_MODE") == "true"

func init() {
	if provider != "" {
		preset, err := config.LookupProvider(provider)
		if err != nil {
			panic(err)
		}
		if apiURL == "" {
			apiURL = preset.BaseURL
		}
		if model == "" {
			model = preset.DefaultModel
		}
	}
	if model == "" {
		panic("LOCALENTITY_MODEL not set")
	}
	if apiURL == "" {
		panic("LOCALENTITY_LLM_API_URL not set")
	}
	if timeout == "" {
		timeout = "5m"
	}
	if logLevel == "" {
		logLevel = "info"
	}
	if stateDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		stateDir = filepath.Join(cwd, "state")
	}
}

func main() {
	os.MkdirAll(stateDir, 0755)

	logger := xlog.New(logLevel, os.Getenv("LOCALENTITY_LOG_FORMAT"), os.Stderr)
	client := llm.NewClient(apiKey, apiURL, timeout)

	memoryOpts := []memory.Option{
		memory.WithClient(client),
		memory.WithPersistPath(filepath.Join(stateDir, "memory")),
		memory.WithLogger(xlog.ForComponent(logger, "memory")),
	}
	if embeddingModel != "" {
		memoryOpts = append(memoryOpts, memory.WithEmbeddingModel(embeddingModel))
	}
	matrix, err := memory.New(memoryOpts...)
	if err != nil {
		panic(err)
	}
	defer matrix.Close()

	params := config.DefaultSystemParams()
	params.SandboxPath = filepath.Join(stateDir, "sandbox")
	params.SafeMode = !unsafeMode
	params.LogLevel = logLevel

	opts := []entity.Option{
		entity.WithClient(client),
		entity.WithModel(model),
		entity.WithSystemParams(params),
		entity.WithMemory(matrix),
		entity.WithLogger(logger),
		entity.WithTools(extraTools()...),
	}
	if personalityFile != "" {
		personality, err := os.ReadFile(personalityFile)
		if err != nil {
			panic(fmt.Sprintf("reading personality file: %v", err))
		}
		opts = append(opts, entity.WithPersonality(string(personality)))
	}

	ent, err := entity.New(opts...)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registerMCPTools(ctx, ent, logger); err != nil {
		logger.Warn("mcp tool registration failed", "error", err)
	}

	ent.OnOutput(func(text string) {
		fmt.Printf("\n< %s\n> ", text)
	})

	ent.Start(ctx)
	defer ent.Stop()

	if monitorAddress != "" {
		apiKeys := []string{}
		if apiKeysEnv != "" {
			apiKeys = strings.Split(apiKeysEnv, ",")
		}
		app := webui.NewApp(ent,
			webui.WithApiKeys(apiKeys...),
			webui.WithLogger(xlog.ForComponent(logger, "webui")),
		)
		go func() {
			if err := app.Listen(monitorAddress); err != nil {
				logger.Error("monitor server stopped", "error", err)
			}
		}()
		logger.Info("monitor listening", "address", monitorAddress)
	}

	go repl(ent)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("\nshutting down")
}

// repl feeds stdin lines into the entity as user signals.
func repl(ent *entity.Entity) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		ent.InputSignal(line, "user")
		fmt.Print("> ")
	}
}

// extraTools builds the env-configured tools on top of the builtin set.
func extraTools() []tools.Tool {
	var extra []tools.Tool
	if webhookURL != "" {
		extra = append(extra, builtin.NewWebhook(builtin.WebhookConfig{URL: webhookURL}))
	}
	if sshBoxHost != "" && unsafeMode {
		extra = append(extra, builtin.NewShell(builtin.ShellConfig{
			Host:       sshBoxHost,
			User:       sshBoxUser,
			PrivateKey: sshBoxKey,
		}))
	}
	return extra
}

// registerMCPTools connects the configured MCP servers and registers their
// tools. LOCALENTITY_MCP_SERVERS holds a JSON array of {url, token}.
func registerMCPTools(ctx context.Context, ent *entity.Entity, logger *slog.Logger) error {
	if mcpServersEnv == "" {
		return nil
	}
	var servers []tools.MCPServer
	if err := json.Unmarshal([]byte(mcpServersEnv), &servers); err != nil {
		return fmt.Errorf("decoding LOCALENTITY_MCP_SERVERS: %w", err)
	}
	source := tools.NewMCPSource(ctx, servers, nil, xlog.ForComponent(logger, "mcp"))
	mcpTools, err := source.Tools(ctx)
	if err != nil {
		return err
	}
	for _, t := range mcpTools {
		if err := ent.RegisterTool(t); err != nil {
			logger.Warn("skipping mcp tool", "error", err)
		}
	}
	return ent.RebuildToolPrompts()
}
