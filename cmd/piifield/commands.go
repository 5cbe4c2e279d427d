package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ai8future/piifield"
	"github.com/ai8future/piifield/sqlstore"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key and an independent index key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := piifield.GenerateKeys()
			if err != nil {
				return err
			}
			defer keys.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "# Store these in your secret manager. Never reuse one key for both.")
			fmt.Fprintf(out, "export %s=%s\n", piifield.EnvEncryptionKey, keys.HexEncryptionKey())
			fmt.Fprintf(out, "export %s=%s\n", piifield.EnvIndexKey, keys.HexIndexKey())
			return nil
		},
	}
}

func newCheckKeysCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check-keys",
		Short: "Validate the configured keys with an encrypt/decrypt round trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := loadKeys(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer keys.Close()

			fc, err := piifield.NewFieldCipher(keys)
			if err != nil {
				return err
			}
			ct, iv, err := fc.EncryptString("piifield key check")
			if err != nil {
				return err
			}
			if _, err := fc.DecryptString(ct, iv); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "keys ok")
			return nil
		},
	}
}

func newDigestCmd(v *viper.Viper) *cobra.Command {
	var registryPath, recordType, field string

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the blind index digest of a value read from stdin",
		Long: `digest computes the digest a searchable field stores for a value, for
manual lookups or to verify backfills. The value is read from stdin so it
stays out of shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadRegistry(registryPath, recordType)
			if err != nil {
				return err
			}
			if _, err := reg.AssertSearchable(field); err != nil {
				return err
			}
			spec, _ := reg.Field(field)

			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("read value: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")

			keys, err := loadKeys(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer keys.Close()

			bi, err := piifield.NewBlindIndexer(keys)
			if err != nil {
				return err
			}
			digest, ok := bi.ComputeNormalized(value, spec.Normalizer)
			if !ok {
				return piifield.ErrUnindexableValue
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "registry YAML file")
	cmd.Flags().StringVar(&recordType, "record-type", "", "record type in the registry")
	cmd.Flags().StringVar(&field, "field", "", "searchable field name")
	_ = cmd.MarkFlagRequired("registry")
	_ = cmd.MarkFlagRequired("record-type")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	var registryPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQLite tables and digest indexes of every record type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			regs, err := piifield.LoadRegistryFile(registryPath)
			if err != nil {
				return err
			}

			store, err := sqlstore.Open(v.GetString("db"))
			if err != nil {
				return err
			}
			defer store.Close()

			for name, reg := range regs {
				if err := store.Migrate(cmd.Context(), reg); err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"record_type": name,
					"table":       reg.Table(),
				}).Info("table ready")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d record types\n", len(regs))
			return nil
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "registry YAML file")
	cmd.Flags().String("db", "piifield.db", "SQLite database path")
	_ = v.BindPFlag("db", cmd.Flags().Lookup("db"))
	_ = cmd.MarkFlagRequired("registry")
	return cmd
}

func loadRegistry(path, recordType string) (*piifield.Registry, error) {
	regs, err := piifield.LoadRegistryFile(path)
	if err != nil {
		return nil, err
	}
	reg, ok := regs[recordType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type", piifield.ErrConfiguration)
	}
	return reg, nil
}
