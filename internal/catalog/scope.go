// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package catalog

import "context"

// The host database enforces per-tenant row filters (RLS); the catalog
// store must read/write across all tenants regardless. Per §9, this is a
// scoped capability, not a global: WithPlatformScope marks a context as
// carrying cross-tenant write authority, generalizing the teacher's
// context-carried correlation-ID pattern (internal/logging/context.go)
// to a boolean capability instead of a string value. Callers should wrap
// only the innermost region that actually needs it.
type scopeKey struct{}

// WithPlatformScope returns a context authorized for cross-tenant
// Catalog writes/reads, bypassing row-level security.
func WithPlatformScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, true)
}

// HasPlatformScope reports whether ctx carries platform-scoped authority.
func HasPlatformScope(ctx context.Context) bool {
	v, _ := ctx.Value(scopeKey{}).(bool)
	return v
}
