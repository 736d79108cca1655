// Package interfaces defines core interfaces and types for the lab portal,
// separating interface definitions from implementations.
//
// # Records
//
// Event: a lab or training session with provisioning defaults and a
// monotonic NextUID counter. The event id "_" is reserved for
// deployment-wide state (session secret, bootstrap one-time password).
//
// User: one enrollment of an email address in one event, carrying the
// generated SSH keypair, the numeric user id allocated from the event and
// the id of the compute instance the user currently owns.
//
// # Storage Interfaces
//
// CredentialStore: strongly-consistent point reads, conditional writes and
// partial updates for events and users. Conditional writes are the only
// coordination primitive between concurrent requests.
//
// # Collaborator Interfaces
//
// ComputeProvider: launches and controls a single instance per user.
//
// KeyManager: encrypts deployment secrets under an encryption context.
//
// KeyGenerator: produces OpenSSH keypairs for new users.
//
// # Errors
//
// ErrNotFound, ErrConflict and ErrAlreadyExists are returned by every store
// backend and should be matched with errors.Is.
package interfaces
