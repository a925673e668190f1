// Package directory resolves addresses to identity fingerprints and pre-key
// packages.
//
// Memory is the registry the relay serves from. Resolver wraps any pair of
// directories with bounded fixed-interval retries for lookups; writes are
// passed through untouched.
package directory
