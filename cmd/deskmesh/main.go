// Command deskmesh runs the customer support mesh: the tool server, the
// specialist agents, and the routing agent, plus a small client for
// exercising a running mesh.
//
// Usage:
//
//	deskmesh tool-server
//	deskmesh tools
//	deskmesh serve router
//	deskmesh serve data
//	deskmesh send "Get customer information for ID 5"
//	deskmesh send --stream "Update my email to a@b.com and show my ticket history"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/deskmesh/deskmesh/pkg/a2a"
	"github.com/deskmesh/deskmesh/pkg/agents"
	"github.com/deskmesh/deskmesh/pkg/client"
	"github.com/deskmesh/deskmesh/pkg/config"
	"github.com/deskmesh/deskmesh/pkg/logger"
	"github.com/deskmesh/deskmesh/pkg/mcp"
	"github.com/deskmesh/deskmesh/pkg/mcpserver"
	"github.com/deskmesh/deskmesh/pkg/router"
	"github.com/deskmesh/deskmesh/pkg/taskstore"
	"github.com/deskmesh/deskmesh/pkg/transport"
)

// CLI defines the command-line interface.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Serve      ServeCmd      `cmd:"" help:"Start one agent process."`
	ToolServer ToolServerCmd `cmd:"" name:"tool-server" help:"Start the customer tool server."`
	Send       SendCmd       `cmd:"" help:"Send a message to the router agent."`
	Tools      ToolsCmd      `cmd:"" help:"List the tools the tool server publishes."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("deskmesh version %s\n", version)
	return nil
}

// ServeCmd starts one agent process.
type ServeCmd struct {
	Agent string `arg:"" enum:"router,data,support,billing" help:"Agent to serve (router, data, support, billing)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := slog.Default().With("component", c.Agent)

	var handler transport.Handler
	var listen string
	switch c.Agent {
	case "router":
		invoker := client.New(&client.Config{Timeout: cfg.Router.CallTimeout})
		handler = router.New(
			router.Endpoints{
				Data:    cfg.Data.URL,
				Support: cfg.Support.URL,
				Billing: cfg.Billing.URL,
			},
			invoker,
			router.WithCallTimeout(cfg.Router.CallTimeout),
			router.WithAgentURL(cfg.Router.URL),
			router.WithLogger(log),
		)
		listen = cfg.Router.Listen
	case "data":
		sink := mcp.NewChannelSink(256, log)
		go drainAudit(ctx, sink, log)
		gateway := mcp.NewGatewayClient(cfg.ToolServer.URL,
			mcp.WithLogger(log),
			mcp.WithAuditSink(sink),
		)
		handler = agents.NewDataAgent(gateway, cfg.Data.URL)
		listen = cfg.Data.Listen
	case "support":
		handler = agents.NewSupportAgent(cfg.Support.URL)
		listen = cfg.Support.Listen
	case "billing":
		handler = agents.NewBillingAgent(cfg.Billing.URL)
		listen = cfg.Billing.Listen
	}

	registry := taskstore.New(log)
	srv := transport.NewServer(handler, registry, log)
	return srv.Start(ctx, listen)
}

// drainAudit logs every tool invocation the gateway records.
func drainAudit(ctx context.Context, sink *mcp.ChannelSink, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sink.Events():
			log.Info("tool invocation",
				"tool", event.Tool,
				"outcome", event.Outcome,
				"args", event.Args,
				"summary", event.Summary,
			)
		}
	}
}

// ToolServerCmd starts the customer tool server.
type ToolServerCmd struct{}

func (c *ToolServerCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := slog.Default().With("component", "tool-server")

	store, err := mcpserver.NewStore(cfg.ToolServer.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := &http.Server{
		Addr:    cfg.ToolServer.Listen,
		Handler: mcpserver.NewServer(store, log).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("tool server listening", "addr", cfg.ToolServer.Listen, "db", cfg.ToolServer.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// SendCmd sends one message to the router and prints the result.
type SendCmd struct {
	Text   string `arg:"" help:"Message text to send."`
	URL    string `help:"Agent URL to send to (defaults to the router)."`
	Stream bool   `help:"Stream task snapshots instead of waiting for the final task."`
}

func (c *SendCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	target := c.URL
	if target == "" {
		target = cfg.Router.URL
	}

	ctx, cancel := signalContext()
	defer cancel()

	cl := client.New(&client.Config{Timeout: 2 * time.Minute})
	message := a2a.NewUserMessage(c.Text)

	if c.Stream {
		events, err := cl.SendMessageStream(ctx, target, message)
		if err != nil {
			return err
		}
		for task := range events {
			fmt.Printf("[%s] task %s\n", task.Status.State, task.ID)
			if task.Status.State.IsTerminal() {
				printOutcome(&task)
			}
		}
		return nil
	}

	task, err := cl.SendMessage(ctx, target, message)
	if task != nil {
		printOutcome(task)
	}
	if err != nil {
		return err
	}
	return nil
}

// ToolsCmd prints the tool catalog published by a running tool server.
type ToolsCmd struct{}

func (c *ToolsCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	gateway := mcp.NewGatewayClient(cfg.ToolServer.URL)
	raw, err := gateway.ListTools(ctx)
	if err != nil {
		return err
	}

	var listing struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return fmt.Errorf("malformed tool listing: %w", err)
	}

	for _, tool := range listing.Tools {
		fmt.Printf("%-22s %s\n", tool.Name, tool.Description)
	}
	return nil
}

func printOutcome(task *a2a.Task) {
	if task.Result != nil {
		fmt.Println(a2a.ExtractText(*task.Result))
	}
	if task.Error != nil {
		fmt.Printf("error [%s]: %s\n", task.Error.Code, task.Error.Message)
	}
}

func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Init(logger.ParseLevel(level))

	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("deskmesh"),
		kong.Description("deskmesh - multi-agent customer support mesh"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
