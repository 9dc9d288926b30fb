package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// RecordID returns the stable identifier of a message within a conversation.
// Re-ingesting the same message always yields the same ID.
func RecordID(talker string, seq int64) ID {
	return IDFromContent(talker + ":" + strconv.FormatInt(seq, 10))
}

// Message type codes used by the upstream chat log.
const (
	TextMessageType   = 1
	AppMessageType    = 49
	QuoteReplySubType = 57
)

// QuotedReference is the message a quote-reply points at.
type QuotedReference struct {
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Type       int    `json:"type"`
	SubType    int    `json:"subType"`
	Content    string `json:"content"`
}

// RecordContents holds structured payloads attached to a message.
type RecordContents struct {
	Refer *QuotedReference `json:"refer,omitempty"`
}

// ChatRecord is one message as returned by the chat-log API.
// Records are never mutated after they are fetched.
type ChatRecord struct {
	Seq        int64           `json:"seq"`
	Time       string          `json:"time"`
	Talker     string          `json:"talker"`
	TalkerName string          `json:"talkerName"`
	IsChatRoom bool            `json:"isChatRoom"`
	Sender     string          `json:"sender"`
	SenderName string          `json:"senderName"`
	IsSelf     bool            `json:"isSelf"`
	Type       int             `json:"type"`
	SubType    int             `json:"subType"`
	Content    string          `json:"content"`
	Contents   *RecordContents `json:"contents,omitempty"`
}

// Refer returns the quoted reference of the record, or nil.
func (r *ChatRecord) Refer() *QuotedReference {
	if r.Contents == nil {
		return nil
	}
	return r.Contents.Refer
}

// Metadata keys attached to every EmbeddingUnit.
const (
	MetaSeq        = "seq"
	MetaTime       = "time"
	MetaTalker     = "talker"
	MetaTalkerName = "talkerName"
	MetaSender     = "sender"
	MetaSenderName = "senderName"
	MetaIsChatRoom = "isChatRoom"
	MetaIsSelf     = "isSelf"
	MetaType       = "type"
	MetaSubType    = "subType"
	MetaRefer      = "refer"
)

// EmbeddingUnit is the text handed to the embedder together with the
// metadata persisted next to its vector.
type EmbeddingUnit struct {
	Text     string
	Metadata map[string]any
}

// Seq returns the upstream sequence number stored in the unit's metadata.
func (u EmbeddingUnit) Seq() int64 {
	seq, _ := u.Metadata[MetaSeq].(int64)
	return seq
}

// Talker returns the conversation the unit belongs to.
func (u EmbeddingUnit) Talker() string {
	talker, _ := u.Metadata[MetaTalker].(string)
	return talker
}

// Checkpoint is the persisted sync position for one conversation.
// LastSeq never decreases.
type Checkpoint struct {
	Talker       string
	TalkerName   string
	LastSeq      int64
	LastSyncTime time.Time
}
