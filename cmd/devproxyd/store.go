/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/devproxy/interceptor/config"
	"github.com/devproxy/interceptor/txstore"
)

func newStoreCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "store",
		Short: "Operate on the transaction store without a running daemon",
	}
	root.AddCommand(newStorePruneCommand(), newStoreClearCommand())
	return root
}

// openOfflineStore opens the transaction store the same way the daemon
// does, for CLI subcommands that need to touch it outside a running
// devproxyd process.
func openOfflineStore(cfg config.Config) (*txstore.Store, error) {
	return txstore.Open(txstore.Options{
		StorageRoot:  cfg.StorageRoot,
		RingCapacity: cfg.RingCapacity,
	})
}

func newStorePruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Tombstone every transaction older than the given duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openOfflineStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Prune(olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "retention window; transactions started before now minus this are tombstoned")
	return cmd
}

func newStoreClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Tombstone every transaction in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openOfflineStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Clear()
		},
	}
}
