// ABOUTME: Package documentation for the response pipeline
// ABOUTME: Describes the per-message flow and the error containment contract

// Package orchestrator runs the full response pipeline for one agent and
// one inbound message: ledger admission, history append, response
// decision, pacing delay, completion, and delivery.
//
// The pipeline has two contracts callers can rely on. First, a ledger
// entry reserved by admission is released on every exit path, including
// cancellation mid-delay, so a crashed pipeline can never starve a
// channel. Second, HandleMessage never propagates an error: any failure
// after admission is logged, surfaced to the channel as a single plain
// notice, and reported as handled=false. One misbehaving agent therefore
// cannot take down message handling for the others.
//
// The LLM and the chat platform appear only as the Completer and Notifier
// interfaces; production wires *ollama.Client and a platform notifier,
// tests wire fakes.
package orchestrator
