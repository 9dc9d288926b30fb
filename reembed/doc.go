// Package reembed recomputes the embeddings of documents already held in
// the vector store. It is used after switching embedding models, so the
// store can be refreshed without pulling history from the chat-log source
// again.
//
// Documents are re-embedded per talker in seq order. Writes go through the
// store's upsert, so a document keeps its ID and an interrupted run can
// simply be started again.
package reembed
