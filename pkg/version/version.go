// Package version is stamped at build time:
//
//	go build -ldflags "-X github.com/veesix-networks/osvdhcp/pkg/version.Version=v1.2.0"
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return Version + " (" + Commit + ") built on " + Date
}

// UserAgent names program in HTTP requests to the control API.
func UserAgent(program string) string {
	return program + "/" + Version
}
