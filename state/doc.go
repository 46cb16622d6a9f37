// Package state provides the shared key/value store that agents of a
// single run read from and publish to.
package state
