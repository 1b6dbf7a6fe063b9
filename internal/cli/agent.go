package cli

import (
	"context"

	"github.com/easeaico/adk-compliance-agent/internal/gate"
	"github.com/easeaico/adk-compliance-agent/internal/logging"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/easeaico/adk-compliance-agent/internal/tools"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/cmd/launcher"
	"google.golang.org/adk/cmd/launcher/full"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

const modelName = "gemini-2.0-flash"

func cmdAgent(g *globals) *cli.Command {
	return &cli.Command{
		Name:            "agent",
		Usage:           "Run the agent; remaining arguments go to the ADK launcher",
		SkipFlagParsing: true,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := g.cfg.RequireAPIKey(); err != nil {
				return err
			}
			logger := logging.From(ctx)

			store, err := memory.Open(ctx, g.cfg.DBType, g.cfg.DatabaseURL)
			if err != nil {
				return goerr.Wrap(err, "failed to connect to database")
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("failed to close store", "error", err)
				}
			}()

			// Tokens never outlive the agent session.
			defer func() {
				n, err := gate.PurgeTokens(g.cfg.TokenDir)
				if err != nil {
					logger.Warn("failed to purge tokens", "error", err)
					return
				}
				logger.Info("purged session tokens", "count", n)
			}()

			llmAgent, err := newAgent(ctx, g, store)
			if err != nil {
				return err
			}

			config := &launcher.Config{
				AgentLoader:   agent.NewSingleLoader(llmAgent),
				MemoryService: memory.NewService(store),
			}
			l := full.NewLauncher()
			if err := l.Execute(ctx, config, c.Args().Slice()); err != nil {
				return goerr.Wrap(err, "failed to run agent", goerr.V("usage", l.CommandLineSyntax()))
			}
			return nil
		},
	}
}

func newAgent(ctx context.Context, g *globals, store memory.Store) (agent.Agent, error) {
	agentTools, err := tools.BuildTools(tools.ToolsConfig{
		Repo:    store,
		Guard:   gate.NewGuard(g.cfg.TokenDir, nil),
		WorkDir: g.cfg.WorkDir,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build tools")
	}

	llmModel, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey:  g.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create LLM model")
	}

	llmAgent, err := llmagent.New(llmagent.Config{
		Name:        "compliance_agent",
		Description: "Coding assistant that consults and records past experiences before acting",
		Model:       llmModel,
		Instruction: buildSystemPrompt(memory.Domains),
		Tools:       agentTools,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create agent")
	}
	return llmAgent, nil
}
