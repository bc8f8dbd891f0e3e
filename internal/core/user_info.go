package core

// UserInfo holds the authenticated consumer's identity and group
// memberships. The auth middleware stores it in the request context.
type UserInfo struct {
	Subject string
	Groups  []string
}
