package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTalker(t *testing.T) {
	assert.NoError(t, ValidateTalker("alice"))

	err := ValidateTalker("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrEmptyTalker)

	assert.ErrorIs(t, ValidateTalker("   "), ErrEmptyTalker)
}

func TestValidateCheckpoint(t *testing.T) {
	tests := []struct {
		name    string
		cp      *Checkpoint
		wantErr bool
	}{
		{"valid", &Checkpoint{Talker: "alice", LastSeq: 10}, false},
		{"nil", nil, true},
		{"empty talker", &Checkpoint{LastSeq: 10}, true},
		{"negative seq", &Checkpoint{Talker: "alice", LastSeq: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCheckpoint(tt.cp)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCheckpoint)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		name   string
		record *ChatRecord
		want   bool
	}{
		{"text", &ChatRecord{Type: 1, Content: "hi"}, true},
		{"quote reply", &ChatRecord{Type: 49, SubType: 57, Content: "agreed"}, true},
		{"app share", &ChatRecord{Type: 49, SubType: 58, Content: "link"}, false},
		{"image", &ChatRecord{Type: 3, Content: "<img>"}, false},
		{"empty text", &ChatRecord{Type: 1, Content: "  "}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(tt.record))
		})
	}
}

func TestIsQuotable(t *testing.T) {
	assert.True(t, IsQuotable(&QuotedReference{Type: 1}))
	assert.True(t, IsQuotable(&QuotedReference{Type: 49}))
	assert.False(t, IsQuotable(&QuotedReference{Type: 3}))
	assert.False(t, IsQuotable(nil))
}
