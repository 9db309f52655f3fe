package main

import "fmt"

// These variables are set at build time with -ldflags "-X main.Version=...".
var (
	GitCommit string = "(unspecified)"
	GitBranch string = "(unspecified)"
	Version   string = "(unspecified)"
	Date      string = "(unspecified)"
)

func getVersion() string {
	return fmt.Sprintf("%v (commit: %v, branch: %v) built on %v",
		Version, GitCommit, GitBranch, Date)
}
