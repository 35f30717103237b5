//go:build darwin

package keepawake

// caffeinate -i blocks idle sleep; -w exits it with the host.
func inhibitorArgv(hostPID int) []string {
	return []string{"caffeinate", "-i", "-w", pidArg(hostPID)}
}
