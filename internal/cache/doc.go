// Package cache resolves per-stage pipeline outputs against earlier result
// directories that share the same fingerprint.
//
// A Resolver scans the output root once, orders matching directories by
// explicit recency, and for each asset type either copies a manifest-valid
// earlier output into the new result directory or prepares an empty one for
// fresh processing. Cache failures never fail a job; they are logged and
// treated as a miss.
package cache
