// Package bootstrap provisions the deployment's one-time administrator
// password and answers CloudFormation custom resource events.
//
// The password is shown exactly once, in the custom resource's response
// data. Only its pbkdf2 hash is stored, on the reserved event record.
package bootstrap
