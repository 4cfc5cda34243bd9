// Package storage is the persistence layer for saved routines.
// It uses BadgerDB as the embedded database and stores values as JSON.
package storage
