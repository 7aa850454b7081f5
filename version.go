package main

import "github.com/fzft/go-uthread-io/cmd"

// set with -ldflags "-X main.gitSHA1=..."
var (
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildID   string = "unknown"
	buildDate string = "unknown"
)

func GitSHA1() string {
	return gitSHA1
}

func GitDirty() string {
	return gitDirty
}

func BuildIdRaw() string {
	return buildID + buildDate + gitSHA1 + gitDirty
}

// Version is the client version decorated with the git state.
func Version() string {
	return (&cmd.Cli{}).Version(GitSHA1(), GitDirty())
}
