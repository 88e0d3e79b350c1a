// Package store provides a SQLite-backed journal of stagehand builds.
//
// The journal is append-only and records:
//   - Generations: one row per full build, with its final status
//   - Steps: one row per executor run over one file, including replays
//
// The journal is an audit log. Nothing reads it back to restore pipeline
// state; every process starts from an empty generation.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while a build writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Steps are ordered by (generation seq, step seq). Step seq is a logical
// counter per generation, never a timestamp.
package store
