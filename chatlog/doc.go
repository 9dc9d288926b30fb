// Package chatlog is a client for the chat-log HTTP API that the sync
// pipeline reads from.
//
// The API exposes a record count, paginated record pages and room/contact
// lookup. Time ranges are "YYYY-MM-DD" or "YYYY-MM-DD~YYYY-MM-DD"; malformed
// ranges and empty talkers are rejected before any request is sent. The
// client does not retry; retry policy belongs to the caller.
package chatlog
