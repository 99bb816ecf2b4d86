package region

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ID identifies a region (a bin in the yard).
type ID string

// Role tags a region as a supply point or a destination point.
type Role string

const (
	// RoleStart is a supply point. Holding material makes it eligible to feed
	// a compatible End region.
	RoleStart Role = "start"
	// RoleEnd is a destination point. Being empty makes it eligible to
	// receive material.
	RoleEnd Role = "end"
)

// ValidRoles defines allowed roles.
var ValidRoles = map[Role]bool{
	RoleStart: true,
	RoleEnd:   true,
}

// ParseRole converts a configuration string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !ValidRoles[r] {
		return "", fmt.Errorf("invalid role %q: must be start or end", s)
	}
	return r, nil
}

// Region is an immutable region definition loaded at startup.
type Region struct {
	ID     ID     `json:"id"`
	Role   Role   `json:"role"`
	Camera string `json:"camera,omitempty"` // Owning camera; empty means any camera
}

// Normalize trims and NFC-normalizes a raw region id.
func Normalize(raw string) ID {
	return ID(norm.NFC.String(strings.TrimSpace(raw)))
}
