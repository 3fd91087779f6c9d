package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fusiyuan2010/cuttdb/pkg/errors"
	"github.com/fusiyuan2010/cuttdb/pkg/filesys"
)

func pidFilePath(dir string) string { return filepath.Join(dir, "pid.cdb") }

func forceRecoveryPath(dir string) string { return filepath.Join(dir, "force_recovery") }

// acquirePidFile enforces single-writer exclusivity (spec.md §9 "Global
// process state"): if pid.cdb names a process that is still alive, Open
// fails; otherwise the current pid is written. Liveness is probed via
// /proc/<pid>, a Linux-only mechanism (SPEC_FULL.md §10 notes the
// os.FindProcess+signal-0 fallback as the portable alternative, not
// implemented here since this port targets Linux only).
func acquirePidFile(dir string) error {
	path := pidFilePath(dir)

	data, err := filesys.ReadFile(path)
	if err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 {
			if processAlive(pid) {
				return errors.NewEngineError(nil, errors.ErrorCodeOpenedByAnotherProcess, "database is already open in another process").
					WithOperation("Open").WithDetail("pid", pid)
			}
		}
	} else if !os.IsNotExist(err) {
		return errors.NewEngineError(err, errors.ErrorCodeFileOpenFailed, "failed to read pid.cdb").
			WithOperation("Open")
	}

	if err := filesys.WriteFile(path, 0o644, []byte(strconv.Itoa(os.Getpid()))); err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeFileOpenFailed, "failed to write pid.cdb").
			WithOperation("Open")
	}
	return nil
}

// releasePidFile removes pid.cdb, called from Close.
func releasePidFile(dir string) error {
	if err := filesys.DeleteFile(pidFilePath(dir)); err != nil && !os.IsNotExist(err) {
		return errors.NewEngineError(err, errors.ErrorCodeIO, "failed to remove pid.cdb").
			WithOperation("Close")
	}
	return nil
}

// processAlive probes /proc/<pid> for liveness. A directory that exists and
// is readable means the process is still running.
func processAlive(pid int) bool {
	alive, _ := filesys.Exists(filepath.Join("/proc", strconv.Itoa(pid)))
	return alive
}

// forceRecoveryRequested reports whether the force_recovery sentinel exists.
func forceRecoveryRequested(dir string) bool {
	present, _ := filesys.Exists(forceRecoveryPath(dir))
	return present
}

// clearForceRecovery unlinks the force_recovery sentinel after a full
// rebuild completes (spec.md §6 "force_recovery ... open triggers a full
// rebuild and then unlinks it").
func clearForceRecovery(dir string) error {
	if err := filesys.DeleteFile(forceRecoveryPath(dir)); err != nil && !os.IsNotExist(err) {
		return errors.NewEngineError(err, errors.ErrorCodeIO, "failed to remove force_recovery sentinel").
			WithOperation("Open")
	}
	return nil
}
