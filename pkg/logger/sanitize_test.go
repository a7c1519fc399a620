package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "f******@******.example", SanitizedEmail("finance@dealer.example"))
	assert.Equal(t, "a@*****.com", SanitizedEmail("a@lotus.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("code", "123456", "production").Value.String())
	assert.Equal(t, "123456", RedactedAttr("code", "123456", "development").Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{query: "", want: false},
		{query: "page=2&sort=price", want: false},
		{query: "code=123456", want: true},
		{query: "otp_code=123456", want: true},
		{query: "access_token=abc", want: true},
		{query: "Email=x%40y.z", want: true},
		{query: "bad=%zz", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeQueryString(tt.query))
		})
	}
}
