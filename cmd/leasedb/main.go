package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkowalik/leasedb/pkg/addrdb"
	"github.com/mkowalik/leasedb/pkg/addrdb/xmlfile"
)

func main() {
	root := &cobra.Command{
		Use:               "leasedb",
		Short:             "Inspect and check a DHCPv6 lease database file",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
	}
	root.PersistentFlags().String("db", "", "Path to the lease database file")
	viper.BindPFlag("db.path", root.PersistentFlags().Lookup("db"))

	root.AddCommand(newDumpCmd(), newCheckCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	viper.SetConfigName("config")    // Name of config file (without extension)
	viper.SetConfigType("yaml")      // Type of config file
	viper.AddConfigPath("./configs") // Path to look for the config file
	viper.AutomaticEnv()             // Read environment variables
	viper.SetEnvPrefix("leasedb")    // Environment variables like LEASEDB_DB_PATH
	viper.SetDefault("log.level", "info")
	viper.SetDefault("db.path", "AddrMgr.xml")
	viper.SetDefault("db.delete_empty_client", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; environment variables and defaults apply
		} else {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logLevel := viper.GetString("log.level")
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// openDatabase loads the database with an accept-all validator: the
// tooling inspects whatever the file holds, policy checks belong to
// the protocol engine.
func openDatabase() (*addrdb.AddrDB, error) {
	path := viper.GetString("db.path")
	db := addrdb.New(xmlfile.New(path, addrdb.AcceptAll{}))
	db.SetDeleteEmptyClient(viper.GetBool("db.delete_empty_client"))
	if err := db.Load(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return db, nil
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the contents of the lease database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}

			fmt.Printf("Database: %s\n", viper.GetString("db.path"))
			fmt.Printf("Replay detection value: %d\n", db.ReplayValue())
			fmt.Printf("Clients: %d\n", db.CountClients())
			for _, client := range db.Clients() {
				fmt.Printf("  client DUID=%s (ia/ta/pd: %d/%d/%d)\n",
					client.DUID(), client.CountIA(), client.CountTA(), client.CountPD())
				for _, ia := range client.Containers() {
					fmt.Printf("    %s iaid=%d state=%s iface=%s/%d T1=%d T2=%d\n",
						ia.Kind(), ia.IAID(), ia.State(), ia.IfaceName(), ia.IfaceIndex(),
						ia.T1(), ia.T2())
					for _, l := range ia.Leases() {
						fmt.Printf("      %s pref=%d valid=%d\n",
							l, l.PrefTimeout(), l.ValidTimeout())
					}
				}
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the database against the interfaces present in the OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}

			nameToIndex, indexToName, err := addrdb.SystemInterfaces()
			if err != nil {
				return err
			}
			if err := db.UpdateInterfacesInfo(nameToIndex, indexToName); err != nil {
				return fmt.Errorf("database cannot be trusted: %w", err)
			}

			fmt.Printf("OK: %d client(s), next wake-up in T1=%d T2=%d pref=%d valid=%d second(s).\n",
				db.CountClients(), db.T1Timeout(), db.T2Timeout(),
				db.PrefTimeout(), db.ValidTimeout())
			return nil
		},
	}
}
