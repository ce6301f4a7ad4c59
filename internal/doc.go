// Package internal holds helpers shared by the authkit packages that
// are not part of the public API: random identifiers, challenge token
// encoding and hashing.
package internal
