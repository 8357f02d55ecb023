// Package version carries build metadata, set at link time:
//
//	go build -ldflags "-X github.com/rickgao/marketsync/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/marketsync/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/marketsync/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown" // UTC, RFC 3339
)

// String returns a human-readable build line.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on REST requests and the stream handshake.
func UserAgent() string {
	return "marketsync/" + Version + " (" + Commit + ")"
}
