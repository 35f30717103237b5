//go:build linux

package keepawake

// systemd-inhibit holds the lock for as long as its child runs; tail
// --pid exits once the host process is gone.
func inhibitorArgv(hostPID int) []string {
	return []string{
		"systemd-inhibit",
		"--what=idle:sleep",
		"--who=termcam",
		"--why=virtual camera devices are running",
		"--mode=block",
		"tail", "--pid=" + pidArg(hostPID), "-f", "/dev/null",
	}
}
