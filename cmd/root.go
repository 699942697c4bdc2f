// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	gravel "github.com/graveldb/gravel"
)

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "gravel",
		Short: "Gravel loads property graphs into distributed fragments.",
		Long: `Gravel reads vertex and edge sources, assigns dense global vertex ids
across a worker group, and seals one immutable fragment per graph
partition into a shared object store.

` + gravel.VersionInfo() + "\n",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			return setAllConfig(v, cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newLoadCommand(stdin, stdout, stderr))
	rc.AddCommand(newInspectCommand(stdin, stdout, stderr))
	rc.AddCommand(newVersionCommand(stdin, stdout, stderr))

	rc.SetOutput(stderr)
	return rc
}

// setAllConfig treats the FlagSet as the definition of every
// configuration option and applies, in priority order, the command line,
// the environment, and an optional toml config file. Each flag carries
// the pointer its value lands in, so applying configuration is just
// setting flags.
//
// Environment variables are the flag names upper-cased, with dashes
// turned to underscores, behind a GRAVEL_ prefix.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	// add cmd line flag def to viper
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	// add env to viper
	v.SetEnvPrefix("GRAVEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// add config file to viper, rejecting keys that match no flag
	if c := v.GetString("config"); c != "" {
		validTags := make(map[string]bool)
		flags.VisitAll(func(f *pflag.Flag) {
			validTags[f.Name] = true
		})

		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	// set all values from viper
	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		if f.Changed {
			// Already set on the command line, which outranks viper.
			// Setting it again would also append to string slice values
			// instead of replacing them.
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			// v.GetString returns "" when the config file holds an
			// actual slice rather than a comma separated string.
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		flagErr = f.Value.Set(value)
	})
	return flagErr
}
