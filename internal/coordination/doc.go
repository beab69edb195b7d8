// ABOUTME: Package documentation for the coordination ledger
// ABOUTME: Explains the gate order and the MarkResponding/MarkComplete contract

// Package coordination decides which agents may respond to an inbound
// message, so several agents sharing a channel never collide.
//
// A single Ledger instance is shared by every agent in the process. For
// each (agent, message) pair, Admit runs four ordered gates:
//
//  1. identity: messages authored by agents, and ! commands, are rejected
//  2. membership: the channel must match the agent's pattern list
//  3. rate limit: the author must have sliding-window budget left; budget
//     is only consumed when admission succeeds
//  4. congestion: the channel must have fewer active and recent responders
//     than the configured maximum
//
// A successful Admit reserves the agent's active entry in the same
// critical section as the congestion check, so concurrent admissions
// cannot both clear a one-slot channel. The admitted agent must call
// MarkComplete on every exit path, normally via defer. Skipping
// MarkComplete leaks an active entry and the congestion gate will starve
// the channel.
//
// Recent-responder entries expire after the cooldown period. They are
// pruned on every congestion read and on every MarkComplete, so a quiet
// channel reopens by itself.
package coordination
