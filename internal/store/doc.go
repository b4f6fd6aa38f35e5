// Package store declares the repository the run journal persists through.
package store
