package model

import "strings"

// Block is one of the eight fixed assessment dimensions.
type Block string

const (
	BlockStrategicFit       Block = "Strategic Fit"
	BlockBusinessEfficiency Block = "Business Efficiency"
	BlockUserValue          Block = "User Value"
	BlockFinancialValue     Block = "Financial Value"
	BlockArchitecture       Block = "Architecture"
	BlockOperationalRisk    Block = "Operational Risk"
	BlockMaintainability    Block = "Maintainability"
	BlockSupportQuality     Block = "Support Quality"
)

// Group partitions the blocks into the two composite indices.
type Group string

const (
	GroupValue  Group = "value"
	GroupHealth Group = "health"
)

// AllBlocks lists the blocks in canonical order (value group first).
var AllBlocks = []Block{
	BlockStrategicFit,
	BlockBusinessEfficiency,
	BlockUserValue,
	BlockFinancialValue,
	BlockArchitecture,
	BlockOperationalRisk,
	BlockMaintainability,
	BlockSupportQuality,
}

// Group returns the index group the block contributes to.
func (b Block) Group() Group {
	switch b {
	case BlockStrategicFit, BlockBusinessEfficiency, BlockUserValue, BlockFinancialValue:
		return GroupValue
	case BlockArchitecture, BlockOperationalRisk, BlockMaintainability, BlockSupportQuality:
		return GroupHealth
	}
	return ""
}

// Valid reports whether b is one of the eight known blocks.
func (b Block) Valid() bool {
	return b.Group() != ""
}

// BlocksIn returns the blocks of a group in canonical order.
func BlocksIn(g Group) []Block {
	var out []Block
	for _, b := range AllBlocks {
		if b.Group() == g {
			out = append(out, b)
		}
	}
	return out
}

// ParseBlock resolves a block name case-insensitively, tolerating
// underscores and hyphens in place of spaces.
func ParseBlock(s string) (Block, bool) {
	norm := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s))
	for _, b := range AllBlocks {
		if strings.EqualFold(string(b), norm) {
			return b, true
		}
	}
	return "", false
}
