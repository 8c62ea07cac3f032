// Package approval implements the checkpoint rendezvous: a checkpoint
// summary is made externally visible, then the session blocks until an
// external approver decides or the timeout elapses. A timeout is a
// rejection with reason "timeout", never an error.
//
// Four transports are provided: an in-process callback, a watched decision
// file, a NATS subject pair, and an HTTP endpoint.
package approval
