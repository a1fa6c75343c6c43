package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/ports"
)

// Compiler implements ports.Compiler for service directories.
type Compiler struct {
	store  ports.ArtifactStore
	logger *zap.Logger
}

// NewCompiler creates a compiler that uploads bundles to store.
func NewCompiler(store ports.ArtifactStore, logger *zap.Logger) *Compiler {
	return &Compiler{store: store, logger: logger}
}

// Compile reads the manifest of the service at source, relative to
// build.Dir, uploads the packed directory and returns the definition.
func (c *Compiler) Compile(ctx context.Context, source string, build domain.BuildContext) (*domain.ServiceDefinition, error) {
	dir := source
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(build.Dir, source)
	}

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read service manifest: %w", err)
	}
	def, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	bundle, err := Pack(dir)
	if err != nil {
		return nil, err
	}
	hash, err := c.store.Put(ctx, def.Sid+".tar.gz", bytes.NewReader(bundle))
	if err != nil {
		return nil, fmt.Errorf("failed to upload service source: %w", err)
	}
	def.Source = hash

	c.logger.Info("service compiled",
		zap.String("sid", def.Sid),
		zap.String("dir", dir),
		zap.String("source", hash),
		zap.Int("bundle_bytes", len(bundle)))

	return def, nil
}
