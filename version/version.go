// Package version holds build-time identifiers, stamped by -ldflags.
package version

var (
	VERSION = "dev"
	COMMIT  = "unknown"
	BUILT   = "unknown"
)

// FullVersion renders the three build-time strings as one line for the
// CLI's --version output.
func FullVersion() string {
	return VERSION + " (commit " + COMMIT + ", built " + BUILT + ")"
}
