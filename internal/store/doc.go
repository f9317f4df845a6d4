// Package store persists episode jobs, subscriptions, the feed item ledger,
// and transcription timing history in SQLite.
//
// The store is the single source of truth for pipeline state: stage
// transitions, progress checkpoints, transcripts, and summaries all live
// here. Claiming an episode is an atomic compare-and-swap so only one worker
// ever processes a job, and checkpoint markers survive failures so resumed
// runs skip phases that already finished.
package store
