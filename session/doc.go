// Package session owns session rows: create, rotate, validate, revoke,
// and refresh-token reuse detection.
package session
