package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentsmith/fleet/pkg/apperr"
)

// LocalWorkspaceIsolator allocates one directory per agent under a
// configured base path. It is the in-process default implementation of the
// WorkspaceIsolator contract; a production deployment substitutes a
// container- or VM-backed isolator behind the same interface.
type LocalWorkspaceIsolator struct {
	basePath string
}

// NewLocalWorkspaceIsolator constructs an isolator rooted at basePath.
func NewLocalWorkspaceIsolator(basePath string) *LocalWorkspaceIsolator {
	return &LocalWorkspaceIsolator{basePath: basePath}
}

// CreateWorkspace makes a fresh directory for agentID.
func (l *LocalWorkspaceIsolator) CreateWorkspace(ctx context.Context, agentID string) (Workspace, error) {
	path := filepath.Join(l.basePath, agentID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("creating workspace for %s: %w", agentID, apperr.ErrWorkspaceUnavailable)
	}
	return Workspace{Path: path, Tag: agentID}, nil
}

// DeleteWorkspace removes agentID's directory and everything under it.
func (l *LocalWorkspaceIsolator) DeleteWorkspace(ctx context.Context, agentID string) error {
	path := filepath.Join(l.basePath, agentID)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting workspace for %s: %w", agentID, err)
	}
	return nil
}
