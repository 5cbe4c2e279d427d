// Command piifield is the operator tool for field-level encryption: it
// generates key pairs, checks the configured keys, computes blind index
// digests for manual lookups and creates the SQLite tables of a registry.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ai8future/piifield"
	"github.com/ai8future/piifield/vaultkeys"
)

var (
	// Build information injected at build time
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		logrus.WithError(err).Error("piifield failed")
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:     "piifield",
		Short:   "Field-level encryption and blind index tooling",
		Version: version + " (" + commit + ")",
		Long: `piifield manages the keys and blind indexes of encrypted PII columns.

Keys are two independent hex-encoded 256-bit secrets, read from
PIIFIELD_ENCRYPTION_KEY and PIIFIELD_INDEX_KEY, from a config file
(encryption_key, index_key), or from a Vault KV v2 secret (--vault-path).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
	root.PersistentFlags().String("log-level", "info", "log level")
	root.PersistentFlags().String("vault-mount", "secret", "Vault KV v2 mount")
	root.PersistentFlags().String("vault-path", "", "Vault KV v2 secret path holding the keys")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("vault_mount", root.PersistentFlags().Lookup("vault-mount"))
	_ = v.BindPFlag("vault_path", root.PersistentFlags().Lookup("vault-path"))

	root.AddCommand(
		newKeygenCmd(),
		newCheckKeysCmd(v),
		newDigestCmd(v),
		newMigrateCmd(v),
	)
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("PIIFIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read config: %v", piifield.ErrFatalConfiguration, err)
		}
	}

	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	return nil
}

// loadKeys reads keys from Vault when a path is configured, otherwise from
// viper (environment or config file).
func loadKeys(ctx context.Context, v *viper.Viper) (*piifield.Keys, error) {
	if path := v.GetString("vault_path"); path != "" {
		src, err := vaultkeys.NewFromEnv(v.GetString("vault_mount"), path)
		if err != nil {
			return nil, err
		}
		return src.LoadKeys(ctx)
	}
	return piifield.ParseHexKeys(v.GetString("encryption_key"), v.GetString("index_key"))
}
