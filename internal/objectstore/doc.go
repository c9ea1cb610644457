// Package objectstore uploads and downloads named blobs in one bucket and
// derives their public URLs.
//
// Two backends exist: Supabase Storage over its REST API, and a local
// filesystem tree for single-host deployments and tests. Keys for pipeline
// artifacts come from ChunkKey, ReplacementKey and FinalKey.
package objectstore
