// Package azblob stores checkpoints as JSON blobs in an Azure Blob Storage container.
package azblob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/flowgraph/pkg/checkpoint"
	flowerrors "github.com/wehubfusion/flowgraph/pkg/errors"
)

// DefaultPrefix is the blob name prefix used when none is configured.
const DefaultPrefix = "checkpoints"

// Store is an Azure Blob Storage checkpoint.Store.
// Blobs are named <prefix>/<run id>/<sequence>-<checkpoint id>.json with a
// zero-padded sequence so that lexical order equals sequence order.
type Store struct {
	blobs  blobAPI
	prefix string
	logger *zap.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the blob name prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store from a standard storage connection string.
func New(connectionString, containerName string, opts ...Option) (*Store, error) {
	client, err := newContainerClient(connectionString, containerName)
	if err != nil {
		return nil, err
	}
	return newStore(client, opts...), nil
}

func newStore(blobs blobAPI, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		prefix: DefaultPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, c *checkpoint.Checkpoint) error {
	if c == nil || c.RunID == "" {
		return fmt.Errorf("checkpoint requires a run id")
	}
	data, err := checkpoint.Encode(c)
	if err != nil {
		return err
	}

	name := s.blobName(c)
	metadata := map[string]string{
		"run_id":   c.RunID,
		"workflow": c.Workflow,
		"sequence": strconv.Itoa(c.Sequence),
		"node_id":  c.NodeID,
	}

	s.mu.Lock()
	err = s.blobs.Upload(ctx, name, data, metadata)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("Failed to upload checkpoint",
			zap.String("run_id", c.RunID),
			zap.String("blob_path", name),
			zap.Int("size", len(data)),
			zap.Error(err))
		return err
	}

	s.logger.Debug("Uploaded checkpoint",
		zap.String("run_id", c.RunID),
		zap.Int("sequence", c.Sequence),
		zap.String("blob_path", name),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context, runID string) (*checkpoint.Checkpoint, error) {
	names, err := s.names(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, flowerrors.CheckpointNotFound(runID)
	}
	c, err := s.load(ctx, names[len(names)-1])
	if errors.Is(err, errBlobNotFound) {
		// removed between list and download
		return nil, flowerrors.CheckpointNotFound(runID)
	}
	return c, err
}

// List implements checkpoint.Store.
func (s *Store) List(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	names, err := s.names(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Checkpoint, 0, len(names))
	for _, name := range names {
		c, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, runID string) error {
	names, err := s.names(ctx, runID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.blobs.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) names(ctx context.Context, runID string) ([]string, error) {
	names, err := s.blobs.List(ctx, s.runPrefix(runID))
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) load(ctx context.Context, name string) (*checkpoint.Checkpoint, error) {
	data, err := s.blobs.Download(ctx, name)
	if err != nil {
		return nil, err
	}
	return checkpoint.Decode(data)
}

func (s *Store) runPrefix(runID string) string {
	if s.prefix == "" {
		return runID + "/"
	}
	return s.prefix + "/" + runID + "/"
}

func (s *Store) blobName(c *checkpoint.Checkpoint) string {
	return path.Join(s.runPrefix(c.RunID), fmt.Sprintf("%010d-%s.json", c.Sequence, c.ID))
}

var _ checkpoint.Store = (*Store)(nil)
