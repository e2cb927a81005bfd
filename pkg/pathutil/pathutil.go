// Package pathutil derives the well-known coordination file paths shared by a
// loop process and its control surface.
//
// Every artifact for a feature lives in a shared directory and is namespaced
// by the literal feature identifier, so the identifier is validated against an
// allow-list before it is ever embedded in a path.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	// FilePrefix is the fixed prefix of every coordination file.
	FilePrefix = "ralph-loop-"

	requestSuffix = ".action.json"
	replySuffix   = ".action.reply.json"
	summarySuffix = ".summary.json"

	// EnvTmpDir overrides the shared directory for request and reply files.
	EnvTmpDir = "RALPH_TMP_DIR"
	// EnvSummaryDir overrides the directory the run summary is written to.
	EnvSummaryDir = "RALPH_SUMMARY_DIR"
)

var featurePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidFeatureID is returned for identifiers outside [A-Za-z0-9_-]+.
var ErrInvalidFeatureID = errors.New("invalid feature identifier")

// InvalidFeatureError carries the rejected identifier.
type InvalidFeatureError struct {
	Feature string
}

func (e *InvalidFeatureError) Error() string {
	return fmt.Sprintf("%s %q: must match %s", ErrInvalidFeatureID, e.Feature, featurePattern)
}

func (e *InvalidFeatureError) Unwrap() error {
	return ErrInvalidFeatureID
}

// ValidateFeature reports whether feature is a usable identifier.
func ValidateFeature(feature string) error {
	if !featurePattern.MatchString(feature) {
		return &InvalidFeatureError{Feature: feature}
	}
	return nil
}

// Resolver builds artifact paths rooted in Dir (request/reply) and SummaryDir
// (run summary).
type Resolver struct {
	Dir        string
	SummaryDir string
}

// NewResolver returns a Resolver with absolute directories. An empty dir
// means os.TempDir(); an empty summaryDir means the same directory as dir.
func NewResolver(dir, summaryDir string) *Resolver {
	if dir == "" {
		dir = os.TempDir()
	}
	if summaryDir == "" {
		summaryDir = dir
	}
	return &Resolver{
		Dir:        absOrClean(dir),
		SummaryDir: absOrClean(summaryDir),
	}
}

// FromEnv returns a Resolver honouring RALPH_TMP_DIR and RALPH_SUMMARY_DIR.
func FromEnv() *Resolver {
	return NewResolver(os.Getenv(EnvTmpDir), os.Getenv(EnvSummaryDir))
}

// RequestPath is where the loop writes a pending action request.
func (r *Resolver) RequestPath(feature string) (string, error) {
	return r.build(r.Dir, feature, requestSuffix)
}

// ReplyPath is where the control surface writes the operator's answer.
func (r *Resolver) ReplyPath(feature string) (string, error) {
	return r.build(r.Dir, feature, replySuffix)
}

// SummaryPath is where the final run summary is handed off.
func (r *Resolver) SummaryPath(feature string) (string, error) {
	return r.build(r.SummaryDir, feature, summarySuffix)
}

func (r *Resolver) build(dir, feature, suffix string) (string, error) {
	if err := ValidateFeature(feature); err != nil {
		return "", err
	}
	return filepath.Join(dir, FilePrefix+feature+suffix), nil
}

// RequestPath resolves against the environment-derived default resolver.
func RequestPath(feature string) (string, error) {
	return FromEnv().RequestPath(feature)
}

// ReplyPath resolves against the environment-derived default resolver.
func ReplyPath(feature string) (string, error) {
	return FromEnv().ReplyPath(feature)
}

// SummaryPath resolves against the environment-derived default resolver.
func SummaryPath(feature string) (string, error) {
	return FromEnv().SummaryPath(feature)
}

func absOrClean(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
