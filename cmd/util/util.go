package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/codec"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/expiring"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags that select and configure the expiring tree to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "ttlkv.db", WrapString("Path of the database file. It is created if it does not exist"))

	key = "tree"
	cmd.PersistentFlags().String(key, "default", WrapString("Name of the expiring tree. Its metadata is stored in the trees <tree>-expires-at and <tree>-expires-at-inverse"))

	key = "codec"
	cmd.PersistentFlags().String(key, string(codec.FormatPlain), WrapString(fmt.Sprintf("Format of the stored values (one of %v, binary is not supported for string values)", codec.Formats)))

	key = "compress"
	cmd.PersistentFlags().String(key, "none", WrapString("Compression of the stored values (none, s2, zstd, lz4)"))

	key = "meta-codec"
	cmd.PersistentFlags().String(key, string(codec.FormatBinary), WrapString("Format of the expiry metadata. Must match the format the tree was created with"))

	key = "ttl"
	cmd.PersistentFlags().Duration(key, expiring.DefaultExpirationLength, WrapString("Expiration length added to the current time whenever a key is refreshed (e.g. 30s, 15m, 12h)"))

	key = "extend-on-update"
	cmd.PersistentFlags().Bool(key, true, WrapString("Refresh the expiry of a key whenever it is written"))

	key = "extend-on-fetch"
	cmd.PersistentFlags().Bool(key, false, WrapString("Refresh the expiry of a key whenever it is read (get, scan)"))

	key = "no-sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Skip fsync after each commit (faster, but the last commits may be lost on a crash)"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("How long to wait for the file lock of the database"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ttlkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetDBOptions reads the database configuration from viper
func GetDBOptions() *db.DBOptions {
	return &db.DBOptions{
		Path:    viper.GetString("path"),
		NoSync:  viper.GetBool("no-sync"),
		Timeout: viper.GetDuration("timeout"),
	}
}

// GetExpiringOptions reads the expiry policy from viper
func GetExpiringOptions() (*expiring.Options, error) {
	format, err := codec.ParseFormat(viper.GetString("meta-codec"))
	if err != nil {
		return nil, err
	}
	opts := expiring.DefaultOptions()
	opts.ExtendOnUpdate = viper.GetBool("extend-on-update")
	opts.ExtendOnFetch = viper.GetBool("extend-on-fetch")
	opts.ExpirationLength = viper.GetDuration("ttl")
	opts.MetadataFormat = format
	return opts, nil
}

// GetValueCodec creates the value codec based on configuration
func GetValueCodec() (codec.Codec[string], error) {
	format, err := codec.ParseFormat(viper.GetString("codec"))
	if err != nil {
		return nil, err
	}
	c, err := codec.New[string](format)
	if err != nil {
		return nil, err
	}
	compressor, err := codec.ParseCompressor(viper.GetString("compress"))
	if err != nil {
		return nil, err
	}
	return codec.Compressed(c, compressor), nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
