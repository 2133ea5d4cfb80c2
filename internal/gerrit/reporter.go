package gerrit

import (
	"context"
	"fmt"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/pkg/types"
)

// CommandSender runs one command line. *QueryClient implements it.
type CommandSender interface {
	SendCommand(ctx context.Context, command string) (bool, error)
}

// Reporter posts Verified votes with `gerrit review`
type Reporter struct {
	sender CommandSender
	log    *logger.Logger
}

// NewReporter creates a reporter that sends through sender
func NewReporter(sender CommandSender) *Reporter {
	return &Reporter{
		sender: sender,
		log:    logger.Get(),
	}
}

// ReviewCommand builds the exact `gerrit review` command line for a verdict
func ReviewCommand(v types.Verdict) string {
	return fmt.Sprintf(`gerrit review --message "%s" --verified %s %s`,
		EscapeMessage(v.Message), v.ScoreArg(), v.Target())
}

// Report sends +1 (pass) or -1 (fail) with message on changeNumber,patchSetNumber.
// The boolean only says the command was accepted over SSH; Gerrit sends no receipt.
func (r *Reporter) Report(ctx context.Context, pass bool, changeNumber, patchSetNumber int, message string) (bool, error) {
	v := types.Verdict{
		Pass:           pass,
		ChangeNumber:   changeNumber,
		PatchSetNumber: patchSetNumber,
		Message:        message,
	}

	r.log.Infof("Reporting Verified %s on %s", v.ScoreArg(), v.Target())

	ok, err := r.sender.SendCommand(ctx, ReviewCommand(v))
	if err != nil {
		return false, fmt.Errorf("failed to send review for %s: %w", v.Target(), err)
	}
	return ok, nil
}
