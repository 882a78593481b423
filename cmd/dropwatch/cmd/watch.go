package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hedeqiang/dropwatch/watchset"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watched wallet file",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Add a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, args[0], (*watchset.Store).Add)
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd, args[0], (*watchset.Store).Remove)
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched wallets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		for _, addr := range store.List() {
			fmt.Fprintln(cmd.OutOrStdout(), addr)
		}
		return nil
	},
}

func init() {
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd)
}

func openStore() (*watchset.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return watchset.Open(cfg.Watchset.Path)
}

func mutate(cmd *cobra.Command, addr string, op func(*watchset.Store, string) watchset.Result) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if res := op(store, addr); !res.OK {
		return fmt.Errorf("%s: %s", addr, res.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d watched)\n", addr, store.Size())
	return nil
}
