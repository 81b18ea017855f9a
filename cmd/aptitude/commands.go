// cmd/aptitude/commands.go
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "aptitude-client/internal/common/errors"
	"aptitude-client/internal/models"
	"aptitude-client/internal/session"
)

type runFunc func(cmd *cobra.Command, a *app, args []string) error

func newRootCmd(bootstrap bootstrapFunc) *cobra.Command {
	var configPath string

	withApp := func(fn runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd, a, args)
		}
	}

	root := &cobra.Command{
		Use:           "aptitude",
		Short:         "Adaptive career aptitude test client",
		Long:          "Runs the adaptive aptitude test against the scoring service, keeping progress on this device so an interrupted test can be resumed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: configs/config.yaml)")

	root.AddCommand(
		newStatusCmd(withApp),
		newStartCmd(withApp),
		newAnswerCmd(withApp),
		newResetCmd(withApp),
		newResultsCmd(withApp),
		newHistoryCmd(withApp),
		newProgressCmd(withApp),
		newTokenCmd(withApp),
	)
	return root
}

type wrapFunc func(runFunc) func(*cobra.Command, []string) error

func newStatusCmd(withApp wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether a test is completed, in progress, or not started",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			state, err := a.machine.CheckStatus(cmd.Context())
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state, a.machine.ProgressPercentage())
			return nil
		}),
	}
}

func newStartCmd(withApp wrapFunc) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a test, or resume the one in progress",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if _, err := a.machine.CheckStatus(ctx); err != nil {
				return err
			}
			state, err := a.machine.StartSession(ctx, force)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state, a.machine.ProgressPercentage())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard the test in progress and start a new one")
	return cmd
}

func newAnswerCmd(withApp wrapFunc) *cobra.Command {
	var questionID string
	cmd := &cobra.Command{
		Use:   "answer <value>",
		Short: "Answer the current question",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			state, err := a.machine.CheckStatus(ctx)
			if err != nil {
				return err
			}
			if state.CurrentQuestion == nil {
				return apperrors.NewNoActiveSessionError()
			}

			id := questionID
			if id == "" {
				id = state.CurrentQuestion.ID
			}
			answer := models.NewAnswer(id, parseValue(state.CurrentQuestion, args[0]))

			state, err = a.machine.SubmitAnswer(ctx, answer)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state, a.machine.ProgressPercentage())
			return nil
		}),
	}
	cmd.Flags().StringVar(&questionID, "question", "", "Question id being answered (default: the current question)")
	return cmd
}

func newResetCmd(withApp wrapFunc) *cobra.Command {
	var retake bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Abandon the test in progress",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			a.machine.ResetTest(ctx)
			if retake {
				a.machine.DiscardResults(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Test and cached results cleared. Run `aptitude start` to retake.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test progress cleared.")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&retake, "retake", false, "Also discard cached results so the test can be taken again")
	return cmd
}

func newResultsCmd(withApp wrapFunc) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show test results",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if sessionID != "" {
				results, err := a.machine.FetchResults(ctx, sessionID)
				if err != nil {
					return err
				}
				printResults(cmd.OutOrStdout(), results)
				return nil
			}

			results := a.machine.GetResults(ctx)
			if results == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No results yet.")
				return nil
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		}),
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Fetch results for a specific session from the server")
	return cmd
}

func newHistoryCmd(withApp wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List completed attempts",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			history, err := a.machine.History(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(history) == 0 {
				fmt.Fprintln(w, "No completed attempts.")
				return nil
			}
			for _, r := range history {
				top := "-"
				if len(r.CareerPaths) > 0 {
					top = r.CareerPaths[0].Title
				}
				fmt.Fprintf(w, "%s  %s  top match: %s\n", r.SessionID, r.CompletedAt.Format("2006-01-02"), top)
			}
			return nil
		}),
	}
}

func newProgressCmd(withApp wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show how far through the test you are",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			state, err := a.machine.CheckStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d%% (%s)\n", a.machine.ProgressPercentage(), state.Status)
			return nil
		}),
	}
}

func newTokenCmd(withApp wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bearer token used when the cookie session is rejected",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <token>",
			Short: "Store a bearer token",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				a.store.SaveAuthToken(cmd.Context(), strings.TrimSpace(args[0]))
				fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored bearer token",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				a.store.ClearAuthToken(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), "Token cleared.")
				return nil
			}),
		},
	)
	return cmd
}

// parseValue reads rating answers as numbers and everything else as text.
func parseValue(q *models.Question, raw string) models.AnswerValue {
	if q != nil && q.Type == models.QuestionRating {
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return models.NumberValue(n)
		}
	}
	return models.StringValue(raw)
}

func printState(w io.Writer, state session.State, pct int) {
	fmt.Fprintf(w, "Status: %s\n", state.Status)
	if state.SessionID != "" {
		fmt.Fprintf(w, "Session: %s\n", state.SessionID)
	}

	switch state.Status {
	case session.StatusInProgress:
		fmt.Fprintf(w, "Question %d of ~%d (%d%%)\n", state.QuestionCount, state.TotalQuestions, pct)
		if q := state.CurrentQuestion; q != nil {
			printQuestion(w, q)
		}
	case session.StatusCompleted:
		if state.Results != nil {
			printResults(w, state.Results)
		}
	case session.StatusError:
		if state.Err != nil {
			fmt.Fprintf(w, "Error: %s\n", state.Err.Message)
		}
	}
}

func printQuestion(w io.Writer, q *models.Question) {
	fmt.Fprintf(w, "[%s] %s\n", q.ID, q.Text)
	switch q.Type {
	case models.QuestionMultipleChoice:
		for _, opt := range q.Options {
			fmt.Fprintf(w, "  - %s\n", opt)
		}
	case models.QuestionImagePreference:
		for _, img := range q.Images {
			fmt.Fprintf(w, "  - %s\n", img)
		}
	case models.QuestionRating:
		if q.Scale != nil {
			fmt.Fprintf(w, "  Rate %g to %g", q.Scale.Min, q.Scale.Max)
			if len(q.Scale.Labels) > 0 {
				fmt.Fprintf(w, " (%s)", strings.Join(q.Scale.Labels, " / "))
			}
			fmt.Fprintln(w)
		}
	case models.QuestionText:
		fmt.Fprintln(w, "  Free text answer")
	}
}

func printResults(w io.Writer, r *models.Results) {
	p := r.PersonalityTraits
	fmt.Fprintf(w, "Results for session %s\n", r.SessionID)
	fmt.Fprintf(w, "Personality: openness %.0f, conscientiousness %.0f, extraversion %.0f, agreeableness %.0f, neuroticism %.0f\n",
		p.Openness, p.Conscientiousness, p.Extraversion, p.Agreeableness, p.Neuroticism)
	i := r.Interests
	fmt.Fprintf(w, "Interests: stem %.0f, arts %.0f, business %.0f, social %.0f, practical %.0f\n",
		i.STEM, i.Arts, i.Business, i.Social, i.Practical)
	for _, c := range r.CareerPaths {
		fmt.Fprintf(w, "  %s (%s) match %.0f%%\n", c.Title, c.Stream, c.MatchScore)
	}
}

// describeError renders err for the terminal, with a hint for retryable failures.
func describeError(err error) string {
	stdErr := apperrors.Normalize(err)
	if stdErr == nil || stdErr.Code == apperrors.ErrCodeInternal {
		return err.Error()
	}
	msg := stdErr.Message
	if stdErr.Details != "" {
		msg += " (" + stdErr.Details + ")"
	}
	switch {
	case stdErr.Retryable:
		msg += ". Run the command again to retry."
	case apperrors.GetErrorCategory(stdErr.Code) == "auth":
		msg += ". Sign in again or run `aptitude token set <token>`."
	}
	return msg
}
