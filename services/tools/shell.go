package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"golang.org/x/crypto/ssh"

	"github.com/mudler/LocalEntity/core/tools"
)

// ShellConfig preconfigures the SSH target for run_shell.
type ShellConfig struct {
	PrivateKey string
	User       string
	Host       string
}

// NewShell builds the run_shell tool. Only register it outside safe mode.
func NewShell(cfg ShellConfig) *ShellAction {
	return &ShellAction{
		privateKey: cfg.PrivateKey,
		user:       cfg.User,
		host:       cfg.Host,
	}
}

type ShellAction struct {
	privateKey string
	user, host string
}

func (a *ShellAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		Command string `json:"command"`
		Host    string `json:"host"`
		User    string `json:"user"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}

	if a.host != "" && a.user != "" {
		result.Host = a.host
		result.User = a.user
	}

	output, err := sshCommand(a.privateKey, result.Command, result.User, result.Host)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: output}, nil
}

func (a *ShellAction) Definition() tools.Definition {
	name := "run_shell"
	description := "Run a shell command on a remote server."
	if a.host != "" && a.user != "" {
		return tools.Definition{
			Name:        name,
			Description: description,
			Properties: map[string]jsonschema.Definition{
				"command": {
					Type:        jsonschema.String,
					Description: "The command to run on the remote server.",
				},
			},
			Required: []string{"command"},
			Category: "system",
		}
	}
	return tools.Definition{
		Name:        name,
		Description: description,
		Properties: map[string]jsonschema.Definition{
			"command": {
				Type:        jsonschema.String,
				Description: "The command to run on the remote server.",
			},
			"host": {
				Type:        jsonschema.String,
				Description: "The host of the remote server. e.g. ip:port",
			},
			"user": {
				Type:        jsonschema.String,
				Description: "The user to connect to the remote server.",
			},
		},
		Required: []string{"command", "host", "user"},
		Category: "system",
	}
}

func sshCommand(privateKey, command, user, host string) (string, error) {
	key, err := ssh.ParsePrivateKey([]byte(privateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(key),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", host, config)
	if err != nil {
		return "", fmt.Errorf("failed to dial: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	cmdOut, err := session.CombinedOutput(command)
	result := string(cmdOut)
	if strings.TrimSpace(result) == "" {
		result += "\nCommand has exited with no output"
	}
	if err != nil {
		result += "\nError: " + err.Error()
	}
	return result, nil
}
