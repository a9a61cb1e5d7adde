package agent

import (
	"fmt"
	"strings"

	"github.com/launchforge/launchforge/internal/domain"
)

// validTxKinds enumerates all valid provisioning transaction kinds.
var validTxKinds = map[TxKind]bool{
	TxKindTokenCreation: true,
	TxKindPoolCreation:  true,
}

// ValidTxKind reports whether k names a known provisioning kind.
func ValidTxKind(k TxKind) bool {
	return validTxKinds[k]
}

// Validate checks that a CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if r.OwnerAddress == "" {
		return fmt.Errorf("owner_address is required: %w", domain.ErrValidation)
	}
	if r.Tokenomics.Symbol == "" {
		return fmt.Errorf("tokenomics.symbol is required: %w", domain.ErrValidation)
	}
	if r.Tokenomics.TotalSupply <= 0 {
		return fmt.Errorf("tokenomics.total_supply must be positive: %w", domain.ErrValidation)
	}
	if r.Tokenomics.Decimals < 0 || r.Tokenomics.Decimals > 18 {
		return fmt.Errorf("tokenomics.decimals must be in [0,18]: %w", domain.ErrValidation)
	}
	return nil
}

// Validate checks that a VersionRequest has all required fields.
func (r *VersionRequest) Validate() error {
	if r.Tag == "" {
		return fmt.Errorf("tag is required: %w", domain.ErrValidation)
	}
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint is required: %w", domain.ErrValidation)
	}
	return nil
}
