package project

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing is returned when the ymir.yml file does not exist.
	ErrConfigMissing = errors.New("no ymir.yml file found")
	// ErrConfigInvalid is returned when the file cannot be parsed or fails validation.
	ErrConfigInvalid = errors.New("invalid ymir.yml file")
	// ErrConfigFieldMissing is returned by the field getters when a required value is empty.
	ErrConfigFieldMissing = errors.New("missing field in ymir.yml file")
	// ErrEnvironmentNotFound is returned when a named environment isn't configured.
	ErrEnvironmentNotFound = errors.New("environment not found")
)

// ValidationError represents a single validation issue with a project configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("the %s file %s: %s", FileName, e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// FieldMissingError reports an empty required top-level field.
type FieldMissingError struct {
	Field string
}

func (e FieldMissingError) Error() string {
	return fmt.Sprintf("no %q found in %s file", e.Field, FileName)
}

func (e FieldMissingError) Unwrap() error {
	return ErrConfigFieldMissing
}

// EnvironmentNotFoundError reports a lookup of an unknown environment.
type EnvironmentNotFoundError struct {
	Name string
}

func (e EnvironmentNotFoundError) Error() string {
	return fmt.Sprintf("environment %q not found in %s file", e.Name, FileName)
}

func (e EnvironmentNotFoundError) Unwrap() error {
	return ErrEnvironmentNotFound
}
