package version

import "fmt"

var (
	CLIName    = "kswap"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}
