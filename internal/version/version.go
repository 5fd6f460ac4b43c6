package version

import "fmt"

// Values are set at build time using -ldflags.
var (
	Version   = "dev"
	Built     = ""
	GitCommit = ""
)

// HumanReadable renders the daemon version line.
func HumanReadable(binary string) string {
	if Version == "" || Version == "dev" {
		return fmt.Sprintf("%s dev", binary)
	}
	if GitCommit != "" {
		return fmt.Sprintf("%s version %s (%s)", binary, Version, GitCommit)
	}
	return fmt.Sprintf("%s version %s", binary, Version)
}
