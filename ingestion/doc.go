// Package ingestion provides pipeline orchestration for syncing chat logs
// into a vector store.
//
// The Pipeline type drives one sync run for a talker:
//   - Counting records and fetching pages concurrently from the chat log
//   - Dropping records already committed by earlier runs
//   - Filtering ineligible messages and building embedding units
//   - Embedding and storing units batch by batch
//   - Advancing the talker's checkpoint as batches commit
//
// Page fetches and batch commits share one bounded worker pool. Pages and
// batches that keep failing after retries are logged and skipped; the next
// incremental run picks them up again under the default checkpoint policy.
// Checkpoint store failures abort the run.
//
// Syncer picks full or incremental runs from the stored checkpoint and
// Scheduler repeats incremental runs for talkers enrolled in auto-sync.
package ingestion
