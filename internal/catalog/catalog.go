// Package catalog looks up record templates by name and the reference
// values ReferenceValue placeholders draw from.
package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/template"
)

// Catalog serves templates and reference values.
type Catalog interface {
	// FetchTemplate returns the body of the template called name
	FetchTemplate(ctx context.Context, name string) (string, error)
	template.ReferenceLoader
	Close() error
}

// Open creates the catalog described by cfg. It returns nil and no error
// when no catalog is configured.
func Open(ctx context.Context, cfg config.CatalogConfig, logger *zap.Logger) (Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "catalog"), zap.String("type", cfg.Type))

	switch cfg.Type {
	case config.CatalogPostgres:
		p, err := NewPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.CatalogFile:
		f, err := LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("catalog file loaded",
			zap.String("path", cfg.Path),
			zap.Int("templates", len(f.Templates)),
			zap.Int("tables", len(f.Tables)))
		return f, nil
	case config.CatalogNone, "":
		return nil, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown catalog type %q", cfg.Type)
	}
}

func templateNotFound(name string) error {
	return errors.Newf(errors.ErrorTypeNotFound, "template %s not found", name).WithDetail("template", name)
}
