package sandbox

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pria-cloud/app-composer/internal/composer"
)

const previewPort = 3000

// Deployer pushes a completed build into the session's environment and starts
// the dev server, returning the authenticated preview endpoint.
type Deployer struct {
	manager *Manager
}

// NewDeployer creates a sandbox deployer over a session manager
func NewDeployer(manager *Manager) *Deployer {
	return &Deployer{manager: manager}
}

// Deploy writes the generated files into the sandbox keyed by the
// conversation id, installs dependencies, starts the dev server in the
// background, and fetches the preview link.
func (d *Deployer) Deploy(ctx context.Context, conversationID string, files []composer.GeneratedFile, dependencies []string) (*composer.PreviewInfo, error) {
	session, err := d.manager.CreateOrReuse(ctx, conversationID, Metadata{ProjectName: "app-composer-build"})
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if err := d.manager.WriteFile(ctx, conversationID, file.FilePath, file.Content); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", file.FilePath, err)
		}
	}

	if len(dependencies) > 0 {
		install := "npm install --legacy-peer-deps " + strings.Join(dependencies, " ")
		result, err := d.manager.Execute(ctx, conversationID, install, ExecOptions{})
		if err != nil {
			return nil, fmt.Errorf("dependency install failed: %w", err)
		}
		if result.ExitCode != 0 {
			return nil, fmt.Errorf("dependency install exited %d: %s", result.ExitCode, result.Stderr)
		}
	}

	// The dev server outlives the command; detach it and let the preview link
	// confirm reachability.
	startCmd := "nohup npm run dev > /tmp/dev-server.log 2>&1 &"
	if _, err := d.manager.Execute(ctx, conversationID, startCmd, ExecOptions{}); err != nil {
		return nil, fmt.Errorf("dev server start failed: %w", err)
	}

	link, err := d.manager.PreviewLink(ctx, conversationID, previewPort)
	if err != nil {
		return nil, fmt.Errorf("preview link unavailable: %w", err)
	}

	log.Printf(`{"level":"info","message":"Build deployed to sandbox","conversation_id":"%s","sandbox_id":"%s","preview_url":"%s"}`, conversationID, session.SandboxID, link.URL)
	return &composer.PreviewInfo{URL: link.URL, Token: link.Token}, nil
}
