package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
)

// changeCmd represents the change command group
var changeCmd = &cobra.Command{
	Use:   "change",
	Short: "Query open Gerrit changes",
	Long: `Query Gerrit changes over SSH.

Every subcommand runs one 'gerrit query' and prints a fresh snapshot;
nothing is cached between invocations.`,
}

var changeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open changes",
	Long: `List open changes, optionally restricted to one project.

Examples:
  gerrit-trigger change list
  gerrit-trigger change list --project platform/build --unverified`,
	Args: cobra.NoArgs,
	RunE: runChangeList,
}

var changeLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the most recently updated open change",
	Args:  cobra.NoArgs,
	RunE:  runChangeLast,
}

var changeGetCmd = &cobra.Command{
	Use:   "get <number|Change-Id>",
	Short: "Show a change by number or Change-Id",
	Long: `Show a change by number or Change-Id.

Examples:
  gerrit-trigger change get 12345
  gerrit-trigger change get I1234567890abcdef1234567890abcdef12345678`,
	Args: cobra.ExactArgs(1),
	RunE: runChangeGet,
}

var changeCommitCmd = &cobra.Command{
	Use:   "commit <sha>",
	Short: "Show the change containing a commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeCommit,
}

func init() {
	for _, c := range []*cobra.Command{changeListCmd, changeLastCmd} {
		c.Flags().StringP("project", "p", "", "Restrict to this project")
		c.Flags().Bool("unverified", false, "Only changes whose Verified score is below +1")
	}

	changeCmd.AddCommand(changeListCmd)
	changeCmd.AddCommand(changeLastCmd)
	changeCmd.AddCommand(changeGetCmd)
	changeCmd.AddCommand(changeCommitCmd)
}

func runChangeList(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	project := projectFlag(cmd)
	unverified, _ := cmd.Flags().GetBool("unverified")

	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "change list", func() (interface{}, error) {
		var changes []*gerrit.Change
		var err error
		if unverified {
			changes, err = s.repo.GetUnverifiedOpenChanges(cmd.Context(), project)
		} else {
			changes, err = s.repo.ListOpenChanges(cmd.Context(), project)
		}
		if err != nil {
			return nil, err
		}
		gerrit.SortByLastUpdate(changes)
		return changes, nil
	})
}

func runChangeLast(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	project := projectFlag(cmd)
	unverified, _ := cmd.Flags().GetBool("unverified")

	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "change last", func() (interface{}, error) {
		if unverified {
			return s.repo.GetLastUnverifiedChange(cmd.Context(), project)
		}
		return s.repo.GetLastChange(cmd.Context(), project)
	})
}

func runChangeGet(cmd *cobra.Command, args []string) error {
	ref := args[0]
	number, numErr := strconv.Atoi(ref)
	if numErr != nil && !gerrit.IsChangeID(ref) {
		return fmt.Errorf("%q is neither a change number nor a Change-Id", ref)
	}

	s, err := newSession()
	if err != nil {
		return err
	}

	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "change get", func() (interface{}, error) {
		if numErr == nil {
			return s.repo.GetChangeByNumber(cmd.Context(), number)
		}
		return s.repo.GetChangeByID(cmd.Context(), ref)
	})
}

func runChangeCommit(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	return ExecuteCommand(cmd.OutOrStdout(), viper.GetString("output.format"), "change commit", func() (interface{}, error) {
		return s.repo.GetChangeByRevision(cmd.Context(), args[0])
	})
}
