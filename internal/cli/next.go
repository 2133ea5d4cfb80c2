package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/trigger"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Pick the next change to build",
	Long: `Print the most recently updated open change whose Verified score is
below +1. Connection failures are retried (trigger.max_retries times,
trigger.retry_interval apart); malformed responses are not.

Build-log lines ("Change discovered", "No change to build") go to stderr,
the change itself to stdout.

Example:
  gerrit-trigger next --project platform/build --format json`,
	Args: cobra.NoArgs,
	RunE: runNext,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <change>,<patchset>",
	Short: "Report Verified +1 or -1 on a patch set",
	Long: `Send 'gerrit review --verified' for a change/patch-set pair.

The score is +1 unless --fail is given. A vote that cannot be delivered
is reported as a delivery failure and exits non-zero; it is not retried.

Examples:
  gerrit-trigger verify 12345,3 --message "Build Successful"
  gerrit-trigger verify 12345,3 --fail --message "Unit tests failed"`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	nextCmd.Flags().StringP("project", "p", "", "Restrict to this project")

	verifyCmd.Flags().Bool("fail", false, "Vote -1 instead of +1")
	verifyCmd.Flags().StringP("message", "m", "", "Review message (default: Build Successful / Build Failed)")
}

func newTrigger(cmd *cobra.Command, s *session) *trigger.Trigger {
	return trigger.New(s.repo, s.reporter, trigger.NewWriterLog(cmd.ErrOrStderr()), trigger.Options{
		MaxRetries:    retriesOption(s.cfg.Trigger.MaxRetries),
		RetryInterval: s.cfg.Trigger.RetryInterval,
	})
}

// retriesOption maps the configured count to trigger.Options, where 0 means default
func retriesOption(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func runNext(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	t := newTrigger(cmd, s)
	project := projectFlag(cmd)

	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "next", func() (interface{}, error) {
		return t.NextChange(cmd.Context(), project)
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	number, ps, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	fail, _ := cmd.Flags().GetBool("fail")
	message, _ := cmd.Flags().GetString("message")
	if message == "" {
		message = defaultMessage(!fail)
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	t := newTrigger(cmd, s)

	change := &gerrit.Change{Number: number, CurrentPatchSet: gerrit.PatchSet{Number: ps}}
	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "verify", func() (interface{}, error) {
		if err := t.ReportResult(cmd.Context(), change, !fail, message); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"change":   number,
			"patchset": ps,
			"pass":     !fail,
		}, nil
	})
}

func defaultMessage(pass bool) string {
	if pass {
		return "Build Successful"
	}
	return "Build Failed"
}

// parseTarget parses "<change>,<patchset>"
func parseTarget(arg string) (int, int, error) {
	changePart, psPart, ok := strings.Cut(arg, ",")
	if !ok {
		return 0, 0, fmt.Errorf("expected <change>,<patchset>, got %q", arg)
	}
	number, err := strconv.Atoi(strings.TrimSpace(changePart))
	if err != nil || number <= 0 {
		return 0, 0, fmt.Errorf("invalid change number %q", changePart)
	}
	ps, err := strconv.Atoi(strings.TrimSpace(psPart))
	if err != nil || ps <= 0 {
		return 0, 0, fmt.Errorf("invalid patch set number %q", psPart)
	}
	return number, ps, nil
}
