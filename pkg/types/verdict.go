package types

import (
	"fmt"
)

// Verdict is the outcome of one build, reported back on a change/patch-set pair
type Verdict struct {
	Pass           bool   // Whether the build succeeded
	ChangeNumber   int    // Gerrit change number
	PatchSetNumber int    // Patch set that was built
	Message        string // Free text shown on the change
}

// Score is the Verified vote: +1 for a pass, -1 for a failure. There is no neutral vote.
func (v *Verdict) Score() int {
	if v.Pass {
		return 1
	}
	return -1
}

// ScoreArg is the score as passed on the command line ("+1" or "-1")
func (v *Verdict) ScoreArg() string {
	return fmt.Sprintf("%+d", v.Score())
}

// Target is the "<change>,<patchset>" argument of `gerrit review`
func (v *Verdict) Target() string {
	return fmt.Sprintf("%d,%d", v.ChangeNumber, v.PatchSetNumber)
}

// String is the vote as written to the build log, e.g. "Verified +1 on 12345,3"
func (v *Verdict) String() string {
	return fmt.Sprintf("Verified %s on %s", v.ScoreArg(), v.Target())
}
