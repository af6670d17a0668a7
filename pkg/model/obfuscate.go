package model

import "regexp"

// Error messages destined for alert documents are user visible; scrub
// anything that looks like a node address before persistence.
var (
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	ipv6Pattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`)
)

// ObfuscateIPAddresses replaces IPv4 and IPv6 address substrings with
// placeholder text.
func ObfuscateIPAddresses(msg string) string {
	msg = ipv4Pattern.ReplaceAllString(msg, "x.x.x.x")
	msg = ipv6Pattern.ReplaceAllString(msg, "x:x:x:x")
	return msg
}
