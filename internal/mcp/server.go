// Package mcp provides an MCP (Model Context Protocol) server for abm.
package mcp

import (
	"context"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/abm/internal/logging"
	"github.com/nvandessel/abm/internal/ratelimit"
	"github.com/nvandessel/abm/internal/store"
)

// DefaultMaxWork caps agents x replicates x iterations for one abm_simulate call.
const DefaultMaxWork int64 = 200_000_000

// Server wraps the MCP SDK server and provides abm-specific functionality.
type Server struct {
	server       *sdk.Server
	store        *store.Store
	workers      int
	maxWork      int64
	logger       *slog.Logger
	runLog       *logging.RunLogger
	auditLogger  *AuditLogger
	toolLimiters *ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "abm")
	Version string // Server version

	// Workers is the default replicate pool size. 0 means one per CPU.
	Workers int

	// MaxWork overrides DefaultMaxWork when positive.
	MaxWork int64

	// Store persists runs when a tool call asks for it. Nil disables
	// persistence and the abm_runs tool.
	Store *store.Store

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	Logger *slog.Logger
	RunLog *logging.RunLogger
}

// NewServer creates a new MCP server with abm tools.
func NewServer(cfg *Config) (*Server, error) {
	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		store:        cfg.Store,
		workers:      cfg.Workers,
		maxWork:      DefaultMaxWork,
		logger:       cfg.Logger,
		runLog:       cfg.RunLog,
	}
	if cfg.MaxWork > 0 {
		s.maxWork = cfg.MaxWork
	}
	s.toolLimiters = ratelimit.NewToolLimiters(s.maxWork)
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server listening on stdio", "tools", s.toolLimiters.Tools(), "max_work", s.maxWork, "persistence", s.store != nil)

	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close releases the audit log. The store belongs to the caller.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
