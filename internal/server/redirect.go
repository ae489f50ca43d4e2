package server

import "strings"

// SafeRedirectTarget sanitizes a post-login destination. Only site-relative
// paths survive; anything that could leave the origin collapses to "/".
func SafeRedirectTarget(target string) string {
	if target == "" {
		return "/"
	}
	if !strings.HasPrefix(target, "/") {
		return "/"
	}
	if strings.HasPrefix(target, "//") {
		return "/"
	}
	if strings.Contains(target, "://") {
		return "/"
	}
	return target
}
