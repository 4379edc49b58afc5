// Package ffmpeg wraps the ffmpeg binary for video frame sampling and
// thumbnail generation.
package ffmpeg
