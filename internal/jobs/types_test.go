package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/splitwise-ledger/internal/domain"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"source unavailable", domain.E(domain.ErrSourceUnavailable, "Fetch", errors.New("503")), true},
		{"storage unavailable", fmt.Errorf("commit: %w", domain.E(domain.ErrStorageUnavailable, "CloseOut", domain.ErrStorageBusy)), true},
		{"credential missing", domain.E(domain.ErrCredentialMissing, "Resolve", errors.New("no key")), false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}
