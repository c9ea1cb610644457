// Package ffprobe decodes ffprobe JSON output into the few fields the
// pipeline needs: stream types and duration.
package ffprobe
