// Package storage provides the credential store backends of the lab portal.
//
// Every backend implements interfaces.CredentialStore with identical
// semantics: strongly-consistent point reads, and conditional writes that
// report a lost condition as interfaces.ErrConflict or
// interfaces.ErrAlreadyExists rather than as a generic failure.
//
// # Backends
//
// DynamoDBStore: two tables, "<prefix>.Events" (hash key EventId) and
// "<prefix>.Users" (hash key Email, range key EventId). Conditions are built
// with the aws-sdk-go expression package and a failed condition surfaces
// as ConditionalCheckFailedException.
//
// PostgresStore: the same two tables in PostgreSQL. Conditions live in the
// WHERE clause or ON CONFLICT target and a zero row count means the condition
// failed.
//
// MemoryStore: mutex-guarded maps for development and tests.
//
// # Factory
//
// StoreFactory.StoreFor selects a backend from a URI:
//
//	dynamodb://HPCLab?region=us-west-2
//	postgres://lab:secret@db:5432/lab?prefix=hpclab
//	memory://
package storage
