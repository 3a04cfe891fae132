// Package pipeline implements the staged task pipeline that carries a
// conversation turn from recorded audio to played speech.
//
// Every conversion kind (transcription, generation, synthesis) is a [Stage]:
// an unbounded FIFO [Queue] of immutable tasks paired with a [Store] that maps
// task ids to their ordered results and lifecycle status. [Worker] loops
// drain a stage's queue and record what the injected conversion function
// produces. The conversation orchestrator submits tasks and observes the
// store through a bounded [Poller]; nothing else is shared between workers
// and the orchestrator.
//
// Stages are plain values owned by one conversation. Nothing in this package
// is global, so several conversations can run side by side with their own
// stages and workers.
package pipeline
