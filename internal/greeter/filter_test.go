package greeter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/notifire/internal/record/postgres"
)

func TestNewParams(t *testing.T) {
	raw, err := NewParams(time.Date(2024, 7, 4, 13, 52, 10, 0, time.UTC), "09:00")
	require.NoError(t, err)
	assert.JSONEq(t, `{"serverSendTime":"2024-07-04 13:45:00","scheduledSendTime":"09:00"}`, string(raw))
}

func TestBuildFilter(t *testing.T) {
	f, err := BuildFilter(json.RawMessage(`{"serverSendTime":"2024-07-04 13:45:00","scheduledSendTime":"09:30"}`))
	require.NoError(t, err)

	p, ok := f.(postgres.Predicate)
	require.True(t, ok)
	assert.Equal(t, birthdayClause, p.Clause)
	assert.Equal(t, []any{"09:30", "2024-07-04 13:45:00"}, p.Args)
}

func TestBuildFilter_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing server time", `{"scheduledSendTime":"09:00"}`},
		{"missing scheduled time", `{"serverSendTime":"2024-07-04 13:45:00"}`},
		{"bad server time", `{"serverSendTime":"04/07/2024","scheduledSendTime":"09:00"}`},
		{"bad scheduled time", `{"serverSendTime":"2024-07-04 13:45:00","scheduledSendTime":"9am"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFilter(json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}
