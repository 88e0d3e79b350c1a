// Package pipeline implements the stagehand file-pipeline engine.
//
// A pipeline is an ordered list of tasks. Each task selects input paths with
// glob patterns, optionally transforms their content, and either writes the
// result into the output tree or stages it as a virtual file that later tasks
// can match again. Registration order is the only scheduling rule: task N and
// every file it matched complete before task N+1 starts, so later tasks always
// observe the files staged by earlier ones.
//
// ARCHITECTURE:
//
// Generation:
// A full build owns a fresh Generation holding two maps keyed by path:
//   - content records: build status plus an optional in-memory content override
//   - watch records: owning entry file, task passes, downstream redirect
//
// Executor branches (evaluated in priority order):
//  1. Direct copy: no transform, no staging, no override
//  2. Transform-and-write: result written to the mirrored output path
//  3. Transform-and-stage: result stored as an override under the staged path
//
// Incremental rebuilds:
// Rebuild walks the watch records of the current generation from a changed
// path: entry links lead back to the file that declared the dependency, the
// recorded passes are replayed in order, and redirect links carry the rebuild
// into the next stage. The walk is bounded by a visited set and a maximum
// chain length because nothing stops a misconfigured pipeline from linking a
// path back onto itself.
//
// INVARIANTS:
//   - Task order never changes after registration
//   - Built is only cleared by staging new content into a path
//   - Entry and redirect links form acyclic chains
package pipeline
