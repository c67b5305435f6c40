package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a job identifier.
func NewID() string {
	return ulid.Make().String()
}

// IsID reports whether s is a well-formed job identifier. The filestore uses
// this to recognize which directories it owns before purging.
func IsID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
