// Package models manages the on-disk cache of downloaded model artifacts.
//
// Every installed model is described by a manifest under
// <models_root>/solasola_manifests listing each file with its size and hash.
// Sweeps keep the cache consistent with those manifests: files no manifest
// claims are removed, files whose hash drifted are removed, and manifests
// that point at missing files are removed. Installs run the external
// installer under an in-process and a cross-process lock, estimate progress
// from historical download rates, and tell the scratch-cache actor when
// downloads start and finish.
package models
