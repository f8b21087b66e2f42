// Package errors defines the error taxonomy of the reconciliation engine.
//
// Soft errors (normalization anomalies, collisions) are accumulated into the
// run report and never abort a run. Hard errors (override integrity, store
// write conflicts, coverage violations) are surfaced to the caller as
// structured values that can be inspected with errors.Is and errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Aliases for the standard library so callers only need one errors import.
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Sentinel errors
var (
	// ErrNormalizationAnomaly marks a name that simplified to an empty or degenerate key
	ErrNormalizationAnomaly = errors.New("normalization anomaly")

	// ErrCollision marks several records on one side sharing a simplified name
	ErrCollision = errors.New("simplified name collision")

	// ErrOverrideIntegrity marks an override whose canonical id is not in the location table
	ErrOverrideIntegrity = errors.New("override integrity violation")

	// ErrStoreWriteConflict marks a write that would silently replace a different mapping
	ErrStoreWriteConflict = errors.New("override store write conflict")

	// ErrCoverage marks a live record with zero or several resolution paths
	ErrCoverage = errors.New("coverage violation")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")
)

// NormalizationAnomalyError is recorded when a raw name yields an unusable key.
type NormalizationAnomalyError struct {
	Source         string `json:"source_dataset_id"`
	RawName        string `json:"raw_name"`
	SimplifiedName string `json:"simplified_name"`
}

func (e *NormalizationAnomalyError) Error() string {
	if e.SimplifiedName == "" {
		return fmt.Sprintf("%s: name %q simplified to an empty string", e.Source, e.RawName)
	}
	return fmt.Sprintf("%s: name %q simplified to degenerate key %q", e.Source, e.RawName, e.SimplifiedName)
}

// Is implements errors.Is support
func (e *NormalizationAnomalyError) Is(target error) bool {
	return target == ErrNormalizationAnomaly
}

// CollisionError describes an ambiguous simplified name.
type CollisionError struct {
	SimplifiedName string `json:"simplified_name"`
	LeftCount      int    `json:"live_count"`
	RightCount     int    `json:"reference_count"`
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("simplified name %q is ambiguous (%d live, %d reference records)",
		e.SimplifiedName, e.LeftCount, e.RightCount)
}

// Is implements errors.Is support
func (e *CollisionError) Is(target error) bool {
	return target == ErrCollision
}

// OverrideIntegrityError is reported for an override pointing at an unknown canonical id.
type OverrideIntegrityError struct {
	Source         string `json:"source_dataset_id"`
	SimplifiedName string `json:"simplified_name"`
	CanonicalID    string `json:"canonical_id"`
}

func (e *OverrideIntegrityError) Error() string {
	return fmt.Sprintf("override %s/%q references canonical id %q which is not in the location table",
		e.Source, e.SimplifiedName, e.CanonicalID)
}

// Is implements errors.Is support
func (e *OverrideIntegrityError) Is(target error) bool {
	return target == ErrOverrideIntegrity
}

// StoreWriteConflictError is returned when an upsert would replace an existing
// mapping with a different canonical id without explicit replace semantics.
type StoreWriteConflictError struct {
	Source         string
	SimplifiedName string
	Existing       string
	Attempted      string
}

func (e *StoreWriteConflictError) Error() string {
	return fmt.Sprintf("override %s/%q already maps to %q; refusing to write %q without replace",
		e.Source, e.SimplifiedName, e.Existing, e.Attempted)
}

// Is implements errors.Is support
func (e *StoreWriteConflictError) Is(target error) bool {
	return target == ErrStoreWriteConflict
}

// OverrideCollisionError is reported when persisted override data holds the
// same key twice with different canonical ids.
type OverrideCollisionError struct {
	Source         string
	SimplifiedName string
	CanonicalIDs   []string
}

func (e *OverrideCollisionError) Error() string {
	return fmt.Sprintf("override store holds %s/%q more than once with canonical ids %v",
		e.Source, e.SimplifiedName, e.CanonicalIDs)
}

// Is implements errors.Is support
func (e *OverrideCollisionError) Is(target error) bool {
	return target == ErrStoreWriteConflict
}

// CoverageError means a live record did not end with exactly one resolution path.
type CoverageError struct {
	RawName string
	Index   int
	Paths   int
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("live record %d (%q) has %d resolution paths, want exactly 1", e.Index, e.RawName, e.Paths)
}

// Is implements errors.Is support
func (e *CoverageError) Is(target error) bool {
	return target == ErrCoverage
}

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
