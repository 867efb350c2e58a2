// Package bfq implements a proportional-share I/O scheduler core: a
// hierarchical B-WF2Q+ entity scheduler and a feedback-driven budget
// engine, driven by a dispatch controller that a block-device adapter
// calls into on request arrival, dispatch opportunity, and completion.
//
// The package never talks to a real block device. Callers implement
// Device and drive Engine.Add / Engine.Dispatch / Engine.Complete the
// way a host request-queue would.
package bfq
