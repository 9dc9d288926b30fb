package ingestion

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/chatvec/core"
)

// toUnits drops ineligible records and converts the rest, keeping order.
func toUnits(records []core.ChatRecord, logger *slog.Logger) []core.EmbeddingUnit {
	units := make([]core.EmbeddingUnit, 0, len(records))
	for i := range records {
		if !core.IsEligible(&records[i]) {
			continue
		}
		units = append(units, toUnit(&records[i], logger))
	}
	return units
}

// toUnit builds the embedding text and metadata of one eligible record.
func toUnit(r *core.ChatRecord, logger *slog.Logger) core.EmbeddingUnit {
	ts, ok := core.NormalizeTime(r.Time)
	if !ok {
		logger.Warn("unparseable record time", "talker", r.Talker, "seq", r.Seq, "time", r.Time)
	}

	meta := map[string]any{
		core.MetaSeq:        r.Seq,
		core.MetaTime:       ts,
		core.MetaTalker:     r.Talker,
		core.MetaTalkerName: r.TalkerName,
		core.MetaSender:     r.Sender,
		core.MetaSenderName: r.SenderName,
		core.MetaIsChatRoom: boolFlag(r.IsChatRoom),
		core.MetaIsSelf:     boolFlag(r.IsSelf),
		core.MetaType:       r.Type,
		core.MetaSubType:    r.SubType,
	}
	// Only quote replies carry a refer field; anything else is ignored.
	if isQuoteReply(r) {
		if ref := r.Refer(); core.IsQuotable(ref) {
			meta[core.MetaRefer] = formatRefer(ref)
		}
	}

	return core.EmbeddingUnit{Text: strings.TrimSpace(r.Content), Metadata: meta}
}

func isQuoteReply(r *core.ChatRecord) bool {
	return r.Type == core.AppMessageType && r.SubType == core.QuoteReplySubType
}

// formatRefer renders a quoted message with all whitespace removed from its
// content.
func formatRefer(ref *core.QuotedReference) string {
	content := strings.Join(strings.Fields(ref.Content), "")
	return fmt.Sprintf("sender:%s, senderName: %s, content: %s", ref.Sender, ref.SenderName, content)
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// seqsOf returns the seqs of units in order.
func seqsOf(units []core.EmbeddingUnit) []int64 {
	seqs := make([]int64, len(units))
	for i, u := range units {
		seqs[i] = u.Seq()
	}
	return seqs
}
