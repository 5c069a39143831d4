package domain

import "errors"

// ErrInvalidRequest indicates that a report request contains invalid data.
var ErrInvalidRequest = errors.New("invalid report request")

// ErrInvalidSchema indicates that a record schema is structurally invalid.
var ErrInvalidSchema = errors.New("invalid record schema")

// ErrInvalidBudget indicates that draft budget limits are invalid.
var ErrInvalidBudget = errors.New("invalid draft budget")

// ErrInvalidArtifactKind indicates that the artifact kind is not valid for the operation.
var ErrInvalidArtifactKind = errors.New("invalid artifact kind")

// ErrInvalidSection indicates that a section spec failed validation.
var ErrInvalidSection = errors.New("invalid section spec")
