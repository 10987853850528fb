//go:build unix

package decrypt

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func checkExecutable(path string, _ os.FileInfo) error {
	return unix.Access(path, unix.X_OK)
}

// isolate starts the child in its own process group so anything it spawns
// can be killed along with it.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
