// Command equalizer-cli starts escalations and follows their progress from a terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var server string
	root := &cobra.Command{
		Use:           "equalizer-cli",
		Short:         "Client for the equalizer API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("EQUALIZER_SERVER", "http://localhost:8080"), "API base URL")

	root.AddCommand(newTailCmd(&server), newEscalateCmd(&server))
	return root
}

func newTailCmd(server *string) *cobra.Command {
	var after uint64
	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Follow the event stream of an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*server)
			return c.tail(cmd.Context(), cmd.OutOrStdout(), args[0], after)
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "resume after this event id (0 replays finished steps only)")
	return cmd
}

func newEscalateCmd(server *string) *cobra.Command {
	var (
		req    escalationRequest
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Start an escalation for an overcharged bill",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient(*server)
			started, err := c.startEscalation(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%d steps)\n", titleStyle.Render("escalation"), started.SessionID, len(started.Steps))
			if !follow {
				return nil
			}
			return c.tail(cmd.Context(), out, started.SessionID, 0)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.HospitalName, "hospital", "", "hospital name")
	f.StringVar(&req.HospitalCity, "city", "", "hospital city")
	f.StringVar(&req.Procedure, "procedure", "", "billed procedure")
	f.Float64Var(&req.BilledAmount, "billed", 0, "amount billed")
	f.Float64Var(&req.FairAmount, "fair", 0, "fair price for the procedure")
	f.StringVar(&req.PatientName, "patient", "", "patient name")
	f.StringVar(&req.PatientEmail, "email", "", "patient email")
	f.StringVar(&req.HospitalEmail, "hospital-email", "", "billing department email")
	f.StringVar(&req.EscalationType, "type", "", "escalation type (see the server's /api/escalations/types)")
	f.BoolVarP(&follow, "follow", "f", true, "stream events until the escalation finishes")
	for _, name := range []string{"hospital", "procedure", "patient", "email"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
