package kv

import (
	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	"github.com/ValentinKolb/ttlKV/lib/logging"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	plog = logger.GetLogger("cmd")

	database *db.DB
	tree     *expiring.Tree[string]

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform operations on an expiring tree",
		Long:               "Perform operations on an expiring tree of a local database. All flags can also be set with environment variables of the form TTLKV_<FLAG> (e.g. TTLKV_TTL=30m) or in a .env file.",
		PersistentPreRunE:  setupTree,
		PersistentPostRunE: closeTree,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupStoreFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(casCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(ttlCmd)
	KeyValueCommands.AddCommand(touchCmd)
	KeyValueCommands.AddCommand(expiredCmd)
	KeyValueCommands.AddCommand(reapCmd)
	KeyValueCommands.AddCommand(treesCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupTree opens the database and the expiring tree selected by the flags
func setupTree(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	opts, err := util.GetExpiringOptions()
	if err != nil {
		return err
	}
	values, err := util.GetValueCodec()
	if err != nil {
		return err
	}

	if database, err = db.Open(util.GetDBOptions()); err != nil {
		return err
	}
	if tree, err = expiring.Open(database, viper.GetString("tree"), values, opts); err != nil {
		_ = database.Close()
		return err
	}
	plog.Debugf("using tree %s of %s", tree.Name(), database.Path())
	return nil
}

// closeTree closes the database opened by setupTree
func closeTree(_ *cobra.Command, _ []string) error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database, tree = nil, nil
	return err
}
