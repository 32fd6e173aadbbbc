package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/session"
)

var columnsOwner string

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Inspect and arrange table columns",
}

// openSession loads the owner's persisted session without extraction.
func openSession(cmd *cobra.Command) (*session.Session, func(), error) {
	if err := cfg.Validate("columns"); err != nil {
		return nil, nil, err
	}
	env, err := initApp(cmd.Context(), envOptions{Store: true})
	if err != nil {
		return nil, nil, err
	}
	owner := columnsOwner
	if owner == "" {
		owner = cfg.OwnerID
	}
	sess, err := env.Sessions.Get(cmd.Context(), owner)
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return sess, env.Close, nil
}

var columnsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List columns in display order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, closeFn, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		formatColumns(os.Stdout, sess.Registry.ListColumns())
		return nil
	},
}

func visibilityCmd(use, short string, visible bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <column-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, closeFn, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			col, err := sess.SetColumnVisibility(cmd.Context(), args[0], visible)
			if err != nil {
				return err
			}
			formatColumns(os.Stdout, []model.Column{col})
			return nil
		},
	}
}

var columnsOrderCmd = &cobra.Command{
	Use:   "order <column-id> <order>",
	Short: "Move a column to a new order value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Wrapf(err, "order must be an integer, got %q", args[1])
		}

		sess, closeFn, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		col, err := sess.SetColumnOrder(cmd.Context(), args[0], order)
		if err != nil {
			return err
		}
		formatColumns(os.Stdout, []model.Column{col})
		return nil
	},
}

func formatColumns(w io.Writer, cols []model.Column) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tID\tLABEL\tVISIBLE\tDESCRIPTION")
	for _, c := range cols {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", c.Order, c.ID, c.Label, c.Visible, c.DescriptionText())
	}
	_ = tw.Flush()
}

func init() {
	columnsCmd.PersistentFlags().StringVar(&columnsOwner, "owner", "", "owner id (default from config)")
	columnsCmd.AddCommand(columnsListCmd)
	columnsCmd.AddCommand(visibilityCmd("show", "Show a column", true))
	columnsCmd.AddCommand(visibilityCmd("hide", "Hide a column", false))
	columnsCmd.AddCommand(columnsOrderCmd)
	rootCmd.AddCommand(columnsCmd)
}
