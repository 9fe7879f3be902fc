// Package mocks holds in-memory implementations of the repository, collaborator
// and queue interfaces for use in tests across packages.
//
// Stores keep their data in exported maps so tests can seed and inspect state;
// Fn fields override the default behaviour of a single method.
package mocks
