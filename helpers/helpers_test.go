package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in       float64
		expected string
	}{
		{0, "0"},
		{1, "1"},
		{2.5, "2.5"},
		{10, "10"},
		{0.001, "0.001"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatFloat(tt.in))
	}
}

func TestToJsonString(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ToJsonString(map[string]int{"a": 1}))
	assert.Equal(t, "", ToJsonString(make(chan int)), "unmarshalable values should produce an empty string")
	assert.Equal(t, "42", IntToString(42))
}
