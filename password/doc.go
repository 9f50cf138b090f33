// Package password derives and verifies argon2id credential hashes in
// PHC string format.
package password
