package kv

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := tree.Insert([]byte(args[0]), args[1]); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, ok, err := tree.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t, value=%s\n", args[0], ok, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:     "del [key]",
		Aliases: []string{"rm"},
		Short:   "Deletes a key value pair and its expiry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ok, err := tree.Remove([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", args[0], ok)
			return nil
		},
	}
	casCmd = &cobra.Command{
		Use:   "cas [key] [old] [new]",
		Short: "Replaces the value of a key if it currently equals old",
		Long:  "Replaces the value of a key if it currently equals old. Use --absent to require that the key does not exist (old is then omitted) and --delete to remove the key instead of writing new (new is then omitted).",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			absent, _ := cmd.Flags().GetBool("absent")
			del, _ := cmd.Flags().GetBool("delete")

			rest := args[1:]
			var expected, proposed *string
			if !absent {
				if len(rest) == 0 {
					return errors.New("missing old value (or use --absent)")
				}
				expected, rest = &rest[0], rest[1:]
			}
			if !del {
				if len(rest) == 0 {
					return errors.New("missing new value (or use --delete)")
				}
				proposed, rest = &rest[0], rest[1:]
			}
			if len(rest) > 0 {
				return fmt.Errorf("unexpected arguments %v", rest)
			}

			err := tree.CompareAndSwap([]byte(args[0]), expected, proposed)
			if errors.Is(err, db.ErrConflict) {
				fmt.Println(err)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println("swapped successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Lists key value pairs in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			match, _ := cmd.Flags().GetString("match")
			reverse, _ := cmd.Flags().GetBool("reverse")
			limit, _ := cmd.Flags().GetInt("limit")

			if match != "" && !doublestar.ValidatePattern(match) {
				return fmt.Errorf("invalid pattern %q", match)
			}

			it := tree.ScanPrefix([]byte(prefix))
			if reverse {
				it.Reverse()
			}
			n := 0
			for (limit <= 0 || n < limit) && it.Next() {
				if match != "" {
					if ok, _ := doublestar.Match(match, string(it.Key())); !ok {
						continue
					}
				}
				fmt.Printf("%s=%s\n", it.Key(), it.Value())
				n++
			}
			return it.Err()
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Shows when a key expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, ok, err := tree.ExpiresAt([]byte(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, tracked=false\n", args[0])
				return nil
			}
			fmt.Printf("key=%s, expires=%s, in=%s\n", args[0], at.Format(time.RFC3339Nano), time.Until(at).Round(time.Millisecond))
			return nil
		},
	}
	touchCmd = &cobra.Command{
		Use:   "touch [key]",
		Short: "Sets the expiry of a key to now + ttl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tree.Refresh([]byte(args[0])); err != nil {
				return err
			}
			fmt.Println("touched successfully")
			return nil
		},
	}
	expiredCmd = &cobra.Command{
		Use:   "expired",
		Short: "Lists expired keys in expiry order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			it := tree.Expired()
			for n := 0; (limit <= 0 || n < limit) && it.Next(); n++ {
				fmt.Printf("%s expired=%s\n", it.Key(), it.ExpiresAt().Format(time.RFC3339Nano))
			}
			return it.Err()
		},
	}
	reapCmd = &cobra.Command{
		Use:   "reap",
		Short: "Deletes expired keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			keys, err := tree.ExpiredKeys(limit)
			if err != nil {
				return err
			}
			removed := 0
			for _, key := range keys {
				// keys removed by a batch are reported as expired but are already gone
				_, ok, err := tree.Remove(key)
				if err != nil {
					return err
				}
				if ok {
					removed++
				}
			}
			plog.Infof("reaped %d of %d expired keys", removed, len(keys))
			fmt.Printf("reaped=%d, expired=%d\n", removed, len(keys))
			return nil
		},
	}
	treesCmd = &cobra.Command{
		Use:   "trees",
		Short: "Lists all trees of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := database.TreeNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Shows statistics of the tree and its expiry metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, _ := cmd.Flags().GetInt("sample")
			withMetrics, _ := cmd.Flags().GetBool("metrics")

			for _, name := range []string{tree.Name(), expiring.ForwardTreeName(tree.Name()), expiring.InverseTreeName(tree.Name())} {
				raw, err := database.OpenTree(name)
				if err != nil {
					return err
				}
				info, err := raw.Info(sample)
				if err != nil {
					return err
				}
				fmt.Printf("tree=%s entries=%d depth=%d leaf-pages=%d leaf-inuse=%d\n", info.Name, info.Entries, info.Depth, info.LeafPages, info.LeafInuse)
				fmt.Printf("  keys:   %s\n", info.KeySizes)
				fmt.Printf("  values: %s\n", info.ValueSizes)
			}

			expired, err := tree.ExpiredKeys(0)
			if err != nil {
				return err
			}
			fmt.Printf("expired=%d\n", len(expired))

			if withMetrics {
				fmt.Println()
				expiring.WriteMetrics(os.Stdout)
			}
			return nil
		},
	}
)

func init() {
	casCmd.Flags().Bool("absent", false, util.WrapString("Require that the key does not exist"))
	casCmd.Flags().Bool("delete", false, util.WrapString("Delete the key instead of writing a new value"))

	scanCmd.Flags().String("prefix", "", util.WrapString("Only list keys starting with this prefix"))
	scanCmd.Flags().String("match", "", util.WrapString("Only list keys matching this glob pattern (e.g. 'user/*/session', '**/tmp')"))
	scanCmd.Flags().Bool("reverse", false, util.WrapString("List keys in descending order"))
	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of entries to list (0 = all)"))

	expiredCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of keys to list (0 = all)"))
	reapCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of keys to delete (0 = all)"))

	infoCmd.Flags().Int("sample", 1000, util.WrapString("Number of entries per tree to sample for the size statistics"))
	infoCmd.Flags().Bool("metrics", false, util.WrapString("Also print the expiry metrics of this process in Prometheus format"))
}
