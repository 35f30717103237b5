package display

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// LockDir is where X servers drop their .X<n>-lock files.
const LockDir = "/tmp"

// LockFileBusy returns a BusyFunc that treats a display as taken when its
// X lock file names a live process. Stale lock files are ignored; the X
// server removes them itself on start.
func LockFileBusy(dir string) BusyFunc {
	return func(display int) bool {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf(".X%d-lock", display)))
		if err != nil {
			return false
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 0 {
			return false
		}
		alive, err := process.PidExists(int32(pid))
		return err == nil && alive
	}
}
