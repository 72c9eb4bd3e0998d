// Package logging configures the process-wide slog logger for both binaries.
//
// Setup installs a JSON or text handler on a slog.LevelVar so the level can
// change at runtime (config hot reload), and optionally tees output to a
// file rotated by lumberjack.
package logging
