package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haskel/branchsim/internal/config"
	"github.com/haskel/branchsim/internal/logger"
	"github.com/haskel/branchsim/internal/remote"
	"github.com/haskel/branchsim/internal/simulation"
	"github.com/haskel/branchsim/internal/storage"
)

var remotesCmd = &cobra.Command{
	Use:   "remotes",
	Short: "Manage the stored remote worker nodes",
	Long: `Manage the remote worker nodes stored in the data directory. Stored remotes
are used by every "simulate" run together with client.remotes from the config
file and --remote flags.`,
}

var remotesAddCmd = &cobra.Command{
	Use:   "add <host:port>...",
	Short: "Store remote worker nodes",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemotesAdd,
}

var remotesRemoveCmd = &cobra.Command{
	Use:     "remove <host:port>...",
	Aliases: []string{"rm"},
	Short:   "Forget stored remote worker nodes",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runRemotesRemove,
}

var remotesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List remote worker nodes",
	RunE:    runRemotesList,
}

var remotesCheck bool

func init() {
	remotesListCmd.Flags().BoolVar(&remotesCheck, "check", false, "try to connect to every remote, fail if one is unreachable")
	remotesCmd.AddCommand(remotesAddCmd, remotesRemoveCmd, remotesListCmd)
	rootCmd.AddCommand(remotesCmd)
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	store := storage.New(config.ExpandHome(cfg.Client.DataDir), logger.Discard())
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load stored data: %w", err)
	}
	return store, nil
}

func runRemotesAdd(cmd *cobra.Command, args []string) error {
	for _, addr := range args {
		if err := config.ValidateAddress(addr); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	for _, addr := range args {
		if store.AddRemote(addr) {
			fmt.Printf("Added %s\n", addr)
		} else {
			fmt.Printf("%s is already stored\n", addr)
		}
	}
	return store.Save()
}

func runRemotesRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	for _, addr := range args {
		if err := store.RemoveRemote(addr); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", addr)
	}
	return store.Save()
}

type remoteEntry struct {
	Addr      string `json:"addr"`
	Source    string `json:"source"`
	Reachable *bool  `json:"reachable,omitempty"`
	Error     string `json:"error,omitempty"`
}

func runRemotesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	var entries []remoteEntry
	seen := make(map[string]bool)
	for _, addr := range cfg.Client.Remotes {
		seen[addr] = true
		entries = append(entries, remoteEntry{Addr: addr, Source: "config"})
	}
	for _, addr := range store.Remotes() {
		if !seen[addr] {
			entries = append(entries, remoteEntry{Addr: addr, Source: "stored"})
		}
	}

	var checkErr error
	if remotesCheck {
		checkErr = checkRemotes(cfg, entries)
	}

	if jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return checkErr
	}

	if len(entries) == 0 {
		fmt.Println("No remotes configured")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%-24s %s", e.Addr, e.Source)
		if e.Reachable != nil {
			if *e.Reachable {
				line += "  reachable"
			} else {
				line += "  unreachable: " + e.Error
			}
		}
		fmt.Println(line)
	}
	return checkErr
}

// reachability ignores every proxy event; a check sends no session.
type reachability struct{}

func (reachability) TaskRequested(*remote.Proxy)                                     {}
func (reachability) ResultReceived(*remote.Proxy, simulation.Task, simulation.Stats) {}
func (reachability) Disconnected(*remote.Proxy, []simulation.Task)                   {}
func (reachability) MessagePosted(string)                                            {}

// checkRemotes connects to every remote concurrently and records the outcome
// in entries. It returns the first connection failure.
func checkRemotes(cfg *config.Config, entries []remoteEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout()+time.Second)
	defer cancel()

	var g errgroup.Group
	for i := range entries {
		g.Go(func() error {
			p := remote.New(entries[i].Addr, cfg.Client.Name, cfg.ConnectTimeout(), reachability{}, logger.Discard())
			err := p.Connect(ctx)
			p.Disconnect()

			ok := err == nil
			entries[i].Reachable = &ok
			if err != nil {
				entries[i].Error = err.Error()
				return fmt.Errorf("remote %s unreachable: %w", entries[i].Addr, err)
			}
			return nil
		})
	}
	return g.Wait()
}
