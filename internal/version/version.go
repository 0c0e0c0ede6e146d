package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/thushan/ksid/theme"
)

var (
	Name        = "ksid"
	Description = "KSI Completion Broker Daemon"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/thushan/ksid"
	GithubHomeUri   = "https://github.com/thushan/ksid"
	GithubLatestUri = "https://github.com/thushan/ksid/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔──────────────────────────────────────────╗
│  ██╗  ██╗███████╗██╗██████╗              │
│  ██║ ██╔╝██╔════╝██║██╔══██╗             │
│  █████╔╝ ███████╗██║██║  ██║             │
│  ██╔═██╗ ╚════██║██║██║  ██║             │
│  ██║  ██╗███████║██║██████╔╝             │
│  ╚═╝  ╚═╝╚══════╝╚═╝╚═════╝              │` + "\n"))

	b.WriteString(theme.ColourSplash("│ "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString(" ")
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(theme.ColourSplash("           │\n"))
	b.WriteString(theme.ColourSplash("╚──────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
