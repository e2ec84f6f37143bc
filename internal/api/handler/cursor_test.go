package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/transcript-relay/internal/jobstore"
)

func TestJobCursor(t *testing.T) {
	submitted := time.Date(2024, 3, 7, 14, 5, 6, 123456000, time.UTC)
	encoded := EncodeJobCursor(&jobstore.JobCursor{SubmittedAt: submitted, JobID: "abc|123"})

	cursor, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, cursor.SubmittedAt.Equal(submitted))
	assert.Equal(t, "abc|123", cursor.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "%%%"},
		{name: "no separator", cursor: base64.URLEncoding.EncodeToString([]byte("12345"))},
		{name: "bad timestamp", cursor: base64.URLEncoding.EncodeToString([]byte("yesterday|abc"))},
		{name: "empty id", cursor: base64.URLEncoding.EncodeToString([]byte("12345|"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}

	cursor, err := DecodeJobCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}
