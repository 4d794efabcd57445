package pathvirt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ApplyEnvironment sets PATH_TRUNCATE to prefix (or clears it) and, when a
// prefix is given, seeds the directories path virtualization assumes exist:
// <prefix>/tmp, <prefix>/var/tmp, and the emulated /dev tree. This mirrors
// pathTruncateApplyEnvironment in the original.
func (t *Truncate) ApplyEnvironment(prefix string, log *logrus.Entry) {
	if prefix == "" || prefix[0] != '/' {
		os.Unsetenv("PATH_TRUNCATE")
		t.storePrefix("")
		return
	}

	os.Setenv("PATH_TRUNCATE", prefix)
	ensureDir(filepath.Join(prefix, "tmp"), log)
	ensureDir(filepath.Join(prefix, "var", "tmp"), log)
	t.ProvisionDev(prefix, log)
	t.storePrefix("")
}

func ensureDir(path string, log *logrus.Entry) {
	if err := os.MkdirAll(path, 0o777); err != nil && log != nil {
		log.WithError(err).WithField("path", path).Warn("path virtualization: could not provision directory")
	}
}

// ProvisionDev seeds <prefix>/dev with symlinks for null/zero and the
// <prefix>/dev/pts directory plus its ptmx placeholder.
// Failures are logged and otherwise ignored: provisioning is best-effort.
func (t *Truncate) ProvisionDev(prefix string, log *logrus.Entry) {
	devDir := filepath.Join(prefix, "dev")
	ensureDir(devDir, log)

	for _, leaf := range []string{"null", "zero"} {
		link := filepath.Join(devDir, leaf)
		if _, err := os.Lstat(link); err == nil {
			continue
		}
		if err := os.Symlink(filepath.Join("/dev", leaf), link); err != nil && log != nil {
			log.WithError(err).WithField("path", link).Warn("path virtualization: could not provision /dev symlink")
		}
	}

	ptsDir := filepath.Join(devDir, "pts")
	if err := os.MkdirAll(ptsDir, 0o755); err != nil {
		if log != nil {
			log.WithError(err).WithField("path", ptsDir).Warn("path virtualization: could not provision dev/pts")
		}
		return
	}

	ptmx := filepath.Join(ptsDir, "ptmx")
	if _, err := os.Stat(ptmx); err != nil {
		f, err := os.OpenFile(ptmx, os.O_CREATE|os.O_WRONLY, 0o666)
		if err != nil {
			if log != nil {
				log.WithError(err).WithField("path", ptmx).Warn("path virtualization: could not provision dev/pts/ptmx")
			}
			return
		}
		_ = f.Close()
	}
}

// ProvisionProc ensures <prefix>/proc exists as a placeholder directory.
// Unlike Linux's real /proc, there is no portable bind-mount equivalent
// available here, so this only creates the mount point; callers that need
// genuine /proc entries must rely on the host's own /proc outside the
// virtualized root.
func (t *Truncate) ProvisionProc(prefix string, log *logrus.Entry) {
	ensureDir(filepath.Join(prefix, "proc"), log)
}

// SlaveProvisioner adapts a Truncate into a pkg/pty.Provisioner: it
// provisions and removes the <prefix>/dev/pts/N placeholder file for each
// pty allocation.
type SlaveProvisioner struct {
	Prefix string
	Log    *logrus.Entry
}

func (p SlaveProvisioner) slavePath(num int) string {
	return filepath.Join(p.Prefix, "dev", "pts", fmt.Sprintf("%d", num))
}

// ProvisionSlave creates a zero-byte /dev/pts/N placeholder with mode 0620.
func (p SlaveProvisioner) ProvisionSlave(num int) error {
	path := p.slavePath(num)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o620)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// The create mode is filtered by the process umask; set it explicitly.
	return os.Chmod(path, 0o620)
}

// RemoveSlave deletes the /dev/pts/N placeholder.
func (p SlaveProvisioner) RemoveSlave(num int) error {
	err := os.Remove(p.slavePath(num))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
