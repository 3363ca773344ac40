// Package internal holds helpers shared across sessioncore packages that must
// not become part of the public API surface, currently credential generation.
package internal
