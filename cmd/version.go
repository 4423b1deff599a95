package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("coldpipe %s\n", buildVersion())
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}

	var revision, modified, buildTime string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		case "vcs.time":
			buildTime = setting.Value
		}
	}

	if revision != "" {
		short := revision
		if len(short) > 12 {
			short = short[:12]
		}
		version += " (" + short
		if modified == "true" {
			version += ", modified"
		}
		if buildTime != "" {
			version += ", " + buildTime
		}
		version += ")"
	}
	return version
}
