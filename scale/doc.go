// Package scale coordinates work across server instances: per-user turn
// locks backed by memory, Redis or PostgreSQL advisory locks, and a bulkhead
// that caps concurrent conversation turns.
package scale
