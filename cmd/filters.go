// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.
package cmd

import (
	"strings"

	"github.com/autoraid/tuner/internal/family"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// filterFlags holds the $match values a command accepts, keyed by the
// field they pin.
type filterFlags map[string]*string

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func addFilterFlags(cmd *cobra.Command, keys ...string) filterFlags {
	f := filterFlags{}
	for _, k := range keys {
		f[k] = cmd.Flags().String(flagName(k), "", "only consider runs with this "+k)
	}
	return f
}

// forFamily converts the filters set on the command line for fam. Filters
// fam does not support are dropped with a warning.
func (f filterFlags) forFamily(cmd *cobra.Command, fam family.Family) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for k, v := range f {
		if !cmd.Flags().Changed(flagName(k)) {
			continue
		}
		if !fam.Allows(k) {
			logger.Warn("filter not supported by family, ignoring",
				zap.String("family", fam.Name), zap.String("filter", k))
			continue
		}
		val, err := fam.FilterValue(k, *v)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}
