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
	"os"

	"github.com/spf13/cobra"

	"github.com/devproxy/interceptor/ca"
)

func newCACommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ca",
		Short: "Inspect and manage the proxy's own certificate authority",
	}
	root.AddCommand(newCAExportCommand(), newCARotateCommand())
	return root
}

func newCAExportCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the root CA certificate as PEM, for import into a browser or OS trust store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := ca.NewStore(cfg.StorageRoot, cfg.LeafCacheCapacity, nil)
			if cerr := store.EnsureRoot(); cerr != nil {
				return cerr
			}
			pem, cerr := store.ExportRootPEM()
			if cerr != nil {
				return cerr
			}

			if out == "" || out == "-" {
				_, err = os.Stdout.Write(pem)
				return err
			}
			return os.WriteFile(out, pem, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "file to write the PEM to (default: stdout)")
	return cmd
}

func newCARotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Replace the root CA and every cached leaf with freshly minted material",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store := ca.NewStore(cfg.StorageRoot, cfg.LeafCacheCapacity, nil)
			return store.RotateRoot()
		},
	}
}
