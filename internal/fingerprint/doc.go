// Package fingerprint provides the content-addressing primitives shared by the
// result cache and the model registry.
//
// HashFile streams SHA-256 over file bytes (or over a symlink's target string),
// Compute derives the cache key for a job from its primary input and
// normalized settings, and the manifest helpers write and validate the sidecar
// files that make a result directory trustworthy as a cache source.
package fingerprint
