// Package instances runs the single-instance-per-user lifecycle:
//
//	no instance -> pending/running <-> stopped -> terminated -> no instance
//
// The user's InstanceId attribute is the only record of ownership. It is
// written after a launch, cleared after a terminate, and cleared when a
// status read finds the instance gone.
package instances
