// Package route maps inbound request paths to the logical paths the proxy
// classifies requests by.
package route

import "strings"

// Logical paths answered by the proxy itself.
const (
	Alive = "/isAlive"
	Ready = "/isReady"
	Debug = "/debug"
)

// Reserved lists the logical paths that are never forwarded.
var Reserved = []string{Alive, Ready, Debug}

// Strip removes basePath from p at a segment boundary: "/base/x" becomes
// "/x" but "/basex" is left alone. under reports whether p lies inside
// basePath. An empty result becomes "/".
func Strip(basePath, p string) (logical string, under bool) {
	if basePath != "" && (p == basePath || strings.HasPrefix(p, basePath+"/")) {
		p = p[len(basePath):]
		under = true
	}
	if p == "" {
		p = "/"
	}
	return p, under
}

// IsHealthCheck reports whether p is a liveness or readiness check, with or
// without the base path.
func IsHealthCheck(basePath, p string) bool {
	logical, _ := Strip(basePath, p)
	return logical == Alive || logical == Ready
}
