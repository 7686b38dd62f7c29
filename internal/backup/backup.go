// Package backup implements the rollback boundary consumed after a failed
// post-update validation.
package backup

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/util"
)

// Restorer is the backup collaborator contract: bring the system back to a
// prior known-good state identified by ref.
type Restorer interface {
	RestoreBackup(ctx context.Context, ref string) bool
}

// DirRestorer restores snapshot directories kept under SnapshotDir onto
// InstallRoot with a best-effort file copy.
type DirRestorer struct {
	SnapshotDir string
	InstallRoot string
}

// NewDirRestorer creates a restorer for snapshots under snapshotDir.
func NewDirRestorer(snapshotDir, installRoot string) *DirRestorer {
	return &DirRestorer{SnapshotDir: snapshotDir, InstallRoot: installRoot}
}

// RestoreBackup copies the named snapshot over the install root. Partial
// restores report failure but leave whatever was copied in place.
func (r *DirRestorer) RestoreBackup(ctx context.Context, ref string) bool {
	src := filepath.Join(r.SnapshotDir, ref)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		log.Errorf("backup snapshot %s not found: %v", src, err)
		return false
	}

	log.Infof("restoring backup %s onto %s", ref, r.InstallRoot)

	failed := false
	err = filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(r.InstallRoot, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}

		if err := util.CopyFileContents(path, target); err != nil {
			log.Errorf("failed to restore %s: %v", target, err)
			failed = true
			return nil // keep going, restore as much as possible
		}
		return os.Chmod(target, info.Mode().Perm())
	})
	if err != nil {
		log.Errorf("backup restore of %s aborted: %v", ref, err)
		return false
	}

	return !failed
}
