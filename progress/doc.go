// Package progress tracks the progress of sync runs.
//
// A run emits (stage, percentage, total, processed) tuples through the
// Reporter interface. The Store keeps the latest Snapshot per task for
// polling and streaming, and a Publisher can forward every change to NATS
// by registering Publisher.Publish as a Store listener:
//
//	pub, _ := progress.Connect(natsURL, "", logger)
//	store := progress.NewStore(progress.WithListener(pub.Publish))
//	tracker := store.Start("room@chatroom", "2024-03-01")
//	tracker.Report(progress.StageFetching, 5, 0, 0)
package progress
