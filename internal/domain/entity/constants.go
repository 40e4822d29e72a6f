package entity

import "github.com/qmsforge/riskflow/pkg/utils"

// GenesisChecksum is the prev_checksum of the first entry in every partition
const GenesisChecksum = "0000000000000000000000000000000000000000000000000000000000000000"

// IsValidRiskID reports whether id has the RISK-NNN form
func IsValidRiskID(id string) bool {
	return utils.ValidateRiskID(id) == nil
}
