// Package cacheindex persists the creation time of every pipeline result
// directory in SQLite so cache candidates can be ordered by explicit recency
// instead of by directory-name sorting.
//
// The index is advisory. A missing or unreadable database never blocks cache
// resolution; callers fall back to the on-disk result marker.
package cacheindex
