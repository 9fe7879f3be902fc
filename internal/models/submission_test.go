package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID(t *testing.T) {
	const id = "6f1c2a8e-3b7d-4c55-9a0e-2d4f8b1e7c90"

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "canonical", input: id, want: id, wantOK: true},
		{name: "upper case", input: strings.ToUpper(id), want: id, wantOK: true},
		{name: "braces", input: "{" + id + "}", want: id, wantOK: true},
		{name: "urn", input: "urn:uuid:" + id, want: id, wantOK: true},
		{name: "garbage", input: "not-a-uuid", want: "not-a-uuid", wantOK: false},
		{name: "empty", input: "", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CanonicalID(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
