package policy

import (
	"fmt"

	"github.com/halcyonchat/sentinel/pkg/capability"
)

// BlockReason explains why a command was rejected by the blocklist.
type BlockReason struct {
	Category capability.PatternCategory `json:"category"`
	Pattern  string                     `json:"pattern"`
	Reason   string                     `json:"reason"`
}

// String renders the reason the way it is shown to users: the policy that
// fired, verbatim, never a generic failure.
func (b BlockReason) String() string {
	return fmt.Sprintf("blocked by %s policy: %s", b.Category, b.Reason)
}

// Classification is the result of analyzing a code fragment before
// execution.
type Classification struct {
	// Required is the union of heuristically detected capabilities.
	// Shell-tagged languages always include ShellExecution.
	Required capability.Set `json:"required"`

	// Blocked is non-nil when the fragment matched the dangerous command
	// blocklist. A blocked fragment never executes, whatever capabilities
	// are granted.
	Blocked *BlockReason `json:"blocked,omitempty"`
}
