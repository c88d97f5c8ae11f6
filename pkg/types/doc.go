// Package types defines the configuration, cache row types, and standard
// errors shared by the address book packages.
package types
