package timeutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0s"},
		{in: 42 * time.Second, want: "42s"},
		{in: 3*time.Minute + 5*time.Second, want: "3m 5s"},
		{in: 2*time.Hour + 30*time.Second, want: "2h 0m 30s"},
		{in: 72*time.Hour + 30*time.Minute + 15*time.Second, want: "3d 0h 30m 15s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.in))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", FormatTime(time.Time{}))

	got := FormatTime(time.Now().Add(-3 * time.Minute))
	assert.True(t, strings.HasSuffix(got, "(3 minutes ago)"), got)
}
