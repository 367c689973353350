// Package ffprobe reads stream layout and durations from media files by
// running ffprobe and decoding its JSON output.
//
// Runner is the seam tests replace: it receives the argument list and
// returns ffprobe's stdout.
package ffprobe
