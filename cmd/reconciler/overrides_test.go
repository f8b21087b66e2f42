package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nged-substations/internal/dataset"
	"github.com/nged-substations/internal/normalize"
)

func TestOverrideKey(t *testing.T) {
	n := normalize.Default()

	tests := []struct {
		name    string
		input   string
		raw     bool
		want    string
		wantErr bool
	}{
		{"simplified key", "deanshanger", false, "deanshanger", false},
		{"capitalised key", "Deanshanger", false, "", true},
		{"key with voltage", "Deanshanger 11kV", false, "", true},
		{"raw flow name", "Deanshanger Primary Transformer Flows", true, "deanshanger", false},
		{"raw simplified key", "kings lynn", true, "kings lynn", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := overrideKey(n, dataset.LivePrimaryFlows, tt.input, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "--raw")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
