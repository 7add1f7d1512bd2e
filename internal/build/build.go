package build

import "strings"

// Set via -ldflags at release time.
var (
	Version = "dev"
	AppName = "Olympus"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
