// Package compute implements interfaces.ComputeProvider on Amazon EC2.
//
// Every state-transition call returns as soon as EC2 accepts the request;
// callers poll Describe to observe the transition.
package compute
