package pipeline

import (
	"path"
	"strings"
)

// StagedDirective controls where a task's transformed output is routed.
//
// The interface is sealed: the only implementations are the values returned
// by Keep, RenameTo, and ComputeFrom.
type StagedDirective interface {
	// destination returns the staged path for src, or "" if none could be
	// computed.
	destination(src string) string
	String() string
}

type keepDirective struct{}

func (keepDirective) destination(src string) string { return src }
func (keepDirective) String() string                { return "keep" }

type renameDirective struct{ to string }

func (d renameDirective) destination(string) string { return d.to }
func (d renameDirective) String() string             { return "rename:" + d.to }

type computeDirective struct{ fn func(src string) string }

func (d computeDirective) destination(src string) string {
	if d.fn == nil {
		return ""
	}
	return d.fn(src)
}
func (computeDirective) String() string { return "compute" }

// Keep stages the result under the source path so later tasks can match it.
func Keep() StagedDirective { return keepDirective{} }

// RenameTo stages every result under one explicit path.
func RenameTo(p string) StagedDirective { return renameDirective{to: normalizePath(p)} }

// ComputeFrom stages each result under a path derived from its source path.
func ComputeFrom(fn func(src string) string) StagedDirective { return computeDirective{fn: fn} }

// ReplaceExtension returns file with its extension replaced by ext.
// The directory is preserved.
func ReplaceExtension(file, ext string) string {
	return strings.TrimSuffix(file, path.Ext(file)) + ext
}

// resolveStaged computes the staged destination for src.
// ok is false when the directive produced no destination.
func resolveStaged(d StagedDirective, src string) (dest string, ok bool) {
	dest = d.destination(src)
	if dest == "" {
		return "", false
	}
	return normalizePath(dest), true
}
