// Package cmd implements the command-line interface of ttlKV. It opens a local database
// and provides commands to read and write an expiring tree, inspect expiry metadata and
// reap expired keys.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for tree operations (get, set, del, cas, scan, ttl, touch, expired, reap, ...)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ttlkv -help for a list of all commands.
package cmd
