// Package apperr holds the error kinds shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrInvalidDefinition marks malformed frontmatter or saved-query YAML.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrMutationRejected marks a metadata write the store refused.
	ErrMutationRejected = errors.New("mutation rejected")
	// ErrEvaluation marks a failed query evaluation.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrUnsupportedQuery marks a filter the fallback evaluator cannot run.
	ErrUnsupportedQuery = errors.New("unsupported query")
)
