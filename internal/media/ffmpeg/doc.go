// Package ffmpeg is the media transform library: stateless operations on local
// files built on the ffmpeg and ffprobe binaries.
//
// Every clip and replacement is encoded with the same H.264/AAC parameters so
// Concat can join them with stream copy.
package ffmpeg
