package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "contact me at john@example.com please", "contact me at [EMAIL] please"},
		{"phone", "call me at (330) 333-2654", "call me at[PHONE]"},
		{"phone with plus", "my number is +15005550002", "my number is [PHONE]"},
		{"french phone", "rappelez le 06 12 34 56 78 svp", "rappelez le [PHONE] svp"},
		{"french international", "mon numéro est +33 6 12 34 56 78", "mon numéro est [PHONE]"},
		{"no pii", "I want to declare a water damage", "I want to declare a water damage"},
		{"address kept", "1 rue de la Paix in Paris", "1 rue de la Paix in Paris"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}
