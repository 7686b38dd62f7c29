// Package execute implements the update execution boundary. The orchestrator
// only interprets the boolean result; everything the update does to the
// system is this package's responsibility.
package execute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/detect"
)

// Executor is the execution collaborator contract: apply a detected update
// and report whether it succeeded.
type Executor interface {
	ExecuteUpdate(ctx context.Context, descriptor *detect.UpdateDescriptor) bool
}

// ArtifactExecutor downloads the update artifact to a staging directory,
// verifies its digest and hands it to the configured installer command.
type ArtifactExecutor struct {
	// InstallCommand is invoked with the staged artifact path appended.
	// Empty means staging-only (useful for dry runs and tests).
	InstallCommand []string
	client         *http.Client
}

// NewArtifactExecutor creates an executor that installs artifacts with the
// given command.
func NewArtifactExecutor(installCommand []string) *ArtifactExecutor {
	return &ArtifactExecutor{
		InstallCommand: installCommand,
		client:         &http.Client{Timeout: 15 * time.Minute},
	}
}

// ExecuteUpdate stages and installs the update. All failures are logged and
// reported as false; the caller decides what that means for scheduling.
func (e *ArtifactExecutor) ExecuteUpdate(ctx context.Context, descriptor *detect.UpdateDescriptor) bool {
	if descriptor == nil || descriptor.ArtifactURL == "" {
		log.Errorf("update descriptor has no artifact to execute")
		return false
	}

	artifact, cleanup, err := e.stageArtifact(ctx, descriptor)
	if err != nil {
		log.Errorf("failed to stage update %s: %v", descriptor.Version, err)
		return false
	}
	defer cleanup()

	if len(e.InstallCommand) == 0 {
		log.Warnf("no install command configured, staged %s and stopped", artifact)
		return false
	}

	args := append(append([]string{}, e.InstallCommand[1:]...), artifact)
	cmd := exec.CommandContext(ctx, e.InstallCommand[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Errorf("installer failed for %s: %v, output: %s", descriptor.Version, err, strings.TrimSpace(string(output)))
		return false
	}

	log.Infof("update %s installed", descriptor.Version)
	return true
}

// stageArtifact downloads the artifact into a temp dir and verifies its
// sha256 digest when the manifest declares one.
func (e *ArtifactExecutor) stageArtifact(ctx context.Context, descriptor *detect.UpdateDescriptor) (string, func(), error) {
	tempDir, err := os.MkdirTemp("", "fleetward-update-*")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnf("failed to remove staging dir %s: %v", tempDir, err)
		}
	}

	nameParts := strings.Split(descriptor.ArtifactURL, "/")
	target := filepath.Join(tempDir, nameParts[len(nameParts)-1])

	if err := e.download(ctx, descriptor.ArtifactURL, target); err != nil {
		cleanup()
		return "", nil, err
	}

	if descriptor.SHA256 != "" {
		digest, err := fileDigest(target)
		if err != nil {
			cleanup()
			return "", nil, err
		}
		if !strings.EqualFold(digest, descriptor.SHA256) {
			cleanup()
			return "", nil, fmt.Errorf("artifact digest mismatch: got %s, manifest says %s", digest, descriptor.SHA256)
		}
	}

	log.Debugf("staged update artifact at %s", target)
	return target, cleanup, nil
}

func (e *ArtifactExecutor) download(ctx context.Context, fileURL, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warnf("error closing artifact file: %v", err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("download artifact: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("error closing download body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact endpoint returned status %d", resp.StatusCode)
	}

	if _, err = io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
