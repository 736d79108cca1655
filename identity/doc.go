// Package identity authenticates and registers portal users.
//
// Login always performs exactly one password verification, against a
// placeholder hash when the user does not exist, and reports every failure
// as ErrNoMatch. Registration allocates the user's numeric id from the
// event's NextUID counter with an unbounded compare-and-set loop, then
// creates the user record only if it does not already exist.
package identity
