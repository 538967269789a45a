package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortressi/saga"
	"github.com/fortressi/saga/booking"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <instance-id>",
		Short: "Show the stored snapshot of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCoordinator(cmd.Context(), func(c *saga.Coordinator, _ *saga.Definition) error {
				inst, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), inst)
				return err
			})
		},
	}
}

func (a *app) recoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume every unfinished trip in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCoordinator(cmd.Context(), func(c *saga.Coordinator, _ *saga.Definition) error {
				recoveries, err := c.Recover(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				failed := 0
				for _, r := range recoveries {
					if r.Err != nil {
						failed++
						fmt.Fprintf(w, "%s %s: %v\n", r.Saga, r.InstanceID, r.Err)
						continue
					}
					fmt.Fprintf(w, "%s %s: completed\n", r.Saga, r.InstanceID)
				}
				fmt.Fprintf(w, "recovered %d instances, %d failed\n", len(recoveries), failed)
				return nil
			})
		},
	}
}

func (a *app) describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the trip saga as a Graphviz DOT graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := booking.NewTripDefinition(a.clients())
			if err != nil {
				return err
			}
			dot, err := def.DOT()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dot)
			return err
		},
	}
}
