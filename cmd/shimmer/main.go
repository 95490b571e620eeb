// Command shimmer is a thin demo harness over internal/environment's public
// API (SPEC_FULL.md §B). It carries no engine semantics of its own — every
// subcommand opens a process-local Environment, drives at most one
// transaction, and exits; it exists to exercise Open/BeginTxn/Put/Get/CommitTxn/Snapshot from
// the outside, the way cuemby-warren/cmd/warren/main.go's rootCmd drives
// pkg/manager and pkg/worker from the outside.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govetachun/shimmer/internal/database"
	"github.com/govetachun/shimmer/internal/environment"
	"github.com/govetachun/shimmer/internal/logging"
	"github.com/govetachun/shimmer/internal/txn"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shimmer",
	Short: "shimmer - embedded B+-tree key/value storage engine demo",
	Long: `shimmer is a library: a B+-tree page layer, a transaction layer with
undo-based rollback, a multi-granularity lock manager, and a typed
serializer, exposed through an Environment.

This binary is a demo harness, not a server: each subcommand opens one
database on a local snapshot file, runs at most one transaction, and exits.`,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", ".", "directory holding the database's snapshot file")
	rootCmd.PersistentFlags().Uint64("page-capacity", 64, "max keys per B+-tree page")
	rootCmd.PersistentFlags().Bool("sync-on-commit", false, "fsync the snapshot file on every commit")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(snapshotInfoCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <database-name>",
	Short: "Open (creating if absent) a database and report its id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _, err := openDatabase(cmd, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("database %q open with id %d\n", args[0], db.ID)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <database-name> <key> <value>",
	Short: "Write a key/value pair in one committed transaction",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, db, err := openEnv(cmd, args[0])
		if err != nil {
			return err
		}
		db.SetImmutable(false)

		tx, err := env.BeginTxn(txn.ReadWrite, db.ID)
		if err != nil {
			return err
		}
		if err := db.Put(tx, []byte(args[1]), []byte(args[2])); err != nil {
			return err
		}
		if err := env.CommitTxn(tx.ID); err != nil {
			return err
		}
		fmt.Printf("put %q = %q\n", args[1], args[2])
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <database-name> <key>",
	Short: "Read a key in one read-only transaction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, db, err := openEnv(cmd, args[0])
		if err != nil {
			return err
		}

		tx, err := env.BeginTxn(txn.ReadOnly, db.ID)
		if err != nil {
			return err
		}
		val, ok, err := db.Get(tx, []byte(args[1]))
		if err != nil {
			_ = env.AbortTxn(tx.ID)
			return err
		}
		if !ok {
			_ = env.CommitTxn(tx.ID)
			fmt.Printf("%q: not found\n", args[1])
			return nil
		}
		if err := env.CommitTxn(tx.ID); err != nil {
			return err
		}
		fmt.Printf("%q = %q\n", args[1], string(val))
		return nil
	},
}

var snapshotInfoCmd = &cobra.Command{
	Use:   "snapshot-info <database-name>",
	Short: "Report snapshot and environment status for a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, db, err := openEnv(cmd, args[0])
		if err != nil {
			return err
		}
		stats := env.Stats()
		fmt.Printf("database:         %s (id %d)\n", args[0], db.ID)
		fmt.Printf("disk storage:     %v\n", db.HasDiskStorage())
		fmt.Printf("open databases:   %d\n", stats.OpenDatabases)
		fmt.Printf("active txns:      %d\n", stats.ActiveTransactions)
		return nil
	},
}

// openDatabase builds a fresh Environment, opens name with the persistent
// flag settings, and enables disk storage backed by <data-dir>/<name>.shimmer.
func openDatabase(cmd *cobra.Command, name string) (*database.Database, *environment.Environment, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pageCapacity, _ := cmd.Flags().GetUint64("page-capacity")
	syncOnCommit, _ := cmd.Flags().GetBool("sync-on-commit")

	env := environment.New()
	db := env.Open(name, database.WithPageCapacity(int(pageCapacity)))

	path := dataDir + string(os.PathSeparator) + name + ".shimmer"
	if err := db.EnableDiskStorageAt(path, syncOnCommit); err != nil {
		return nil, nil, err
	}
	logging.Log().Info().Str("path", path).Msg("database backed by snapshot file")
	return db, env, nil
}

// openEnv is openDatabase with the return order callers actually want.
func openEnv(cmd *cobra.Command, name string) (*environment.Environment, *database.Database, error) {
	db, env, err := openDatabase(cmd, name)
	if err != nil {
		return nil, nil, err
	}
	return env, db, nil
}
