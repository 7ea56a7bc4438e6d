// Package backend is a reference implementation of the authorization service
// the broker talks to. It issues authorize URLs, receives provider callbacks,
// exchanges codes immediately for authenticated users and parks them as
// single-use deferred codes otherwise.
//
// It is meant for development and end-to-end tests; linked accounts are
// returned, never persisted.
package backend
