// Package commands implements the querypad subcommands.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/queryworks/querypad/internal/cli/config"
	"github.com/queryworks/querypad/internal/session"
	"github.com/queryworks/querypad/internal/source"
)

// CommandContext bundles what every command needs.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// NewCommandContext extracts config and logger from the command context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	return &CommandContext{
		Cfg:    config.FromContext(ctx),
		Logger: config.GetLogger(ctx),
	}
}

// openSource constructs the configured data source. The returned close
// function releases backend resources; bulk is nil when the backend does
// not support bulk export.
func openSource(cmd *cobra.Command, cc *CommandContext) (src source.DataSource, bulkRunner source.BulkRunner, closer func() error, err error) {
	cfg := cc.Cfg

	switch cfg.Source.Type {
	case "rest":
		rest, err := source.NewREST(source.RESTConfig{
			BaseURL:  cfg.Source.URL,
			Token:    cfg.Source.Token,
			PageSize: cfg.PageSize,
		}, cc.Logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return rest, rest, func() error { return nil }, nil

	case "sqlite", "postgres", "duckdb":
		local, err := source.OpenLocal(cmd.Context(), source.LocalConfig{
			Driver:   cfg.Source.Type,
			Path:     cfg.Source.Path,
			Host:     cfg.Source.Host,
			Port:     cfg.Source.Port,
			Database: cfg.Source.Database,
			Username: cfg.Source.Username,
			Password: cfg.Source.Password,
			Options:  cfg.Source.Options,
			PageSize: cfg.PageSize,
		}, cc.Logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return local, local, local.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// newRegistry builds a session registry over the configured source.
func newRegistry(cmd *cobra.Command, cc *CommandContext) (*session.Registry, func() error, error) {
	src, bulkRunner, closer, err := openSource(cmd, cc)
	if err != nil {
		return nil, nil, err
	}
	reg := session.New(session.Config{
		Source:       src,
		Bulk:         bulkRunner,
		PollInterval: cc.Cfg.PollDuration(),
		PageSize:     cc.Cfg.PageSize,
		Logger:       cc.Logger,
	})
	return reg, closer, nil
}
