// Package middleware provides net/http middleware that resolves opaque
// session tokens against the engine. Attachment fails open to an anonymous
// request; enforcement is a separate, explicit layer.
package middleware
