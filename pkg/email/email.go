// Package email holds small helpers for working with email addresses during
// login: deriving a directory username from an address and deciding whether a
// claimed address is structurally usable at all.
package email

import "strings"

// LocalPart returns the part of the address before the first '@'. If the
// address has no '@', the whole string is returned; callers use this to derive
// a directory username from the sign-in request's email claim.
func LocalPart(address string) string {
	if at := strings.IndexByte(address, '@'); at >= 0 {
		return address[:at]
	}
	return address
}

// Valid reports whether the address is structurally usable. The bar is
// deliberately low: the directory is the authority on user data, this check
// only decides whether the email fallback policy should kick in.
func Valid(address string) bool {
	return address != "" && strings.Contains(address, "@")
}
