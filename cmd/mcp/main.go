package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/richard-senior/go-mcp-runtime/internal/config"
	"github.com/richard-senior/go-mcp-runtime/internal/logger"
	"github.com/richard-senior/go-mcp-runtime/pkg/peer"
	"github.com/richard-senior/go-mcp-runtime/pkg/protocol"
	"github.com/richard-senior/go-mcp-runtime/pkg/session"
	"github.com/richard-senior/go-mcp-runtime/pkg/transport"
)

func main() {
	mode := flag.String("mode", "client", "Run as \"client\" or \"server\"")
	transportName := flag.String("transport", "stdio", "Transport: stdio, http, ws or streaming")
	addr := flag.String("addr", "localhost:8080", "Server listen address (server mode) or client base URL/command (client mode)")
	configFile := flag.String("config", "", "Optional YAML config file")
	debug := flag.Bool("debug", false, "Log a debug notice at startup; the logger stays at INFO level, so debug output is suppressed")
	flag.Parse()

	logger.SetShowDateTime(true)
	if *debug {
		logger.Debug("Debug logging enabled")
	}

	cfgFile, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load config file", err)
	}

	selfInfo := protocol.Implementation{
		Name:    firstNonEmpty(cfgFile.ClientName, "go-mcp-runtime"),
		Version: firstNonEmpty(cfgFile.ClientVersion, "0.1.0"),
	}

	switch *mode {
	case "server":
		runServer(*transportName, *addr, selfInfo)
	case "client":
		runClient(*transportName, *addr, selfInfo, cfgFile, flag.Args())
	default:
		logger.Fatal("Unknown -mode, want \"client\" or \"server\"", *mode)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// runServer binds a server transport and serves until an interrupt or
// terminate signal arrives.
func runServer(transportName, addr string, selfInfo protocol.Implementation) {
	var t transport.ServerTransport
	switch transportName {
	case "stdio":
		t = transport.NewStdioServerTransport(os.Stdin, os.Stdout)
	case "http", "ws", "streaming":
		t = transport.NewHTTPServerTransport(addr)
	default:
		logger.Fatal("Unknown -transport for server mode", transportName)
		return
	}

	p := peer.NewServerPeer(t, peer.DefaultConfig(), selfInfo)
	p.SetServerCapabilities(protocol.ServerCapabilities{
		Tools:     &protocol.ListChangedCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{Subscribe: true, ListChanged: true},
		Prompts:   &protocol.ListChangedCapability{ListChanged: true},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Bind(ctx); err != nil {
		logger.Fatal("Failed to bind server transport", err)
	}
	logger.Info("Serving MCP", transportName, addr)

	if err := p.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Server transport exited with error", err)
	}
	logger.Info("MCP server shut down")
}

// runClient dials transportName, completes the handshake, and runs one
// command from args (e.g. "tools list", "tools call <name> <json-args>",
// "resources read <uri>", "ping"). With no args it lists tools.
func runClient(transportName, addr string, selfInfo protocol.Implementation, cfgFile config.File, args []string) {
	dial := func(ctx context.Context) (transport.ClientTransport, error) {
		switch transportName {
		case "stdio":
			parts := strings.Fields(addr)
			if len(parts) == 0 {
				return nil, fmt.Errorf("stdio transport requires -addr to name a command to spawn")
			}
			return transport.SpawnStdioClientTransport(ctx, parts[0], parts[1:]...)
		case "http":
			return transport.NewHTTPSSEClientTransport(ctx, addr, transport.HTTPClientConfig{Timeout: 30 * time.Second})
		case "streaming":
			return transport.NewStreamingHTTPClientTransport(ctx, addr, transport.HTTPClientConfig{Timeout: 30 * time.Second}, transport.DefaultStreamingConfig())
		case "ws":
			return transport.DialWebSocketClientTransport(ctx, addr, nil)
		default:
			return nil, fmt.Errorf("unknown transport %q", transportName)
		}
	}

	cfg := session.DefaultConfig()
	cfg.ClientInfo = selfInfo
	if len(cfgFile.Scopes) > 0 {
		cfg.ClientCapabilities.Experimental = map[string]any{"scopes": cfgFile.Scopes}
	}

	sess := session.New(dial, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		logger.Fatal("Failed to connect", err)
	}
	defer sess.Close()

	if err := runCommand(context.Background(), sess.Peer(), args); err != nil {
		logger.Fatal("Command failed", err)
	}
}

func runCommand(ctx context.Context, p *peer.Peer, args []string) error {
	if len(args) == 0 {
		args = []string{"tools", "list"}
	}

	switch args[0] {
	case "ping":
		if err := p.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("pong")

	case "tools":
		if len(args) < 2 || args[1] == "list" {
			result, err := p.ListTools(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		if args[1] == "call" {
			if len(args) < 3 {
				return fmt.Errorf("usage: tools call <name> [json-args]")
			}
			toolArgs, err := parseArgs(args[3:])
			if err != nil {
				return err
			}
			result, err := p.CallTool(ctx, args[2], toolArgs)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		return fmt.Errorf("unknown tools subcommand %q", args[1])

	case "resources":
		if len(args) < 2 || args[1] == "list" {
			result, err := p.ListResources(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		if args[1] == "read" {
			if len(args) < 3 {
				return fmt.Errorf("usage: resources read <uri>")
			}
			result, err := p.ReadResource(ctx, args[2])
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		return fmt.Errorf("unknown resources subcommand %q", args[1])

	case "prompts":
		if len(args) < 2 || args[1] == "list" {
			result, err := p.ListPrompts(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		if args[1] == "get" {
			if len(args) < 3 {
				return fmt.Errorf("usage: prompts get <name>")
			}
			result, err := p.GetPrompt(ctx, args[2], nil)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		return fmt.Errorf("unknown prompts subcommand %q", args[1])

	default:
		return fmt.Errorf("unknown command %q (want ping, tools, resources or prompts)", args[0])
	}
	return nil
}

func parseArgs(rest []string) (map[string]any, error) {
	if len(rest) == 0 {
		return nil, nil
	}
	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(strings.Join(rest, " ")), &toolArgs); err != nil {
		return nil, fmt.Errorf("parsing tool arguments as JSON: %w", err)
	}
	return toolArgs, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
