// Package version holds the signrelay build version.
package version

// Version is overridden at link time:
//
//	-ldflags "-X github.com/xdg/signrelay/internal/version.Version=v1.2.0"
var Version = "dev"

// UserAgent is sent by the relay client on every request.
func UserAgent() string {
	return "signrelay/" + Version
}
