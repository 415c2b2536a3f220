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
	"github.com/spf13/cobra"

	"github.com/devproxy/interceptor/config"
)

var cfgFile string

// newRootCommand builds the devproxyd command tree: run, ca export,
// ca rotate, store prune, store clear, each resolving config.Config the
// same way via loadConfig.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "devproxyd",
		Short:         "A developer-facing intercepting HTTP/HTTPS/WebSocket proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML/TOML/JSON config file")
	flags.String("listen", "", "MITM listener bind address")
	flags.String("control-listen", "", "control surface bind address")
	flags.String("storage-root", "", "directory holding ca/, store/ and the control token")
	flags.String("log-level", "", "trace|debug|info|warn|error")
	flags.String("log-format", "", "text|json")

	root.AddCommand(newRunCommand(), newCACommand(), newStoreCommand())
	return root
}

// loadConfig reads cfgFile (if set) over config.Defaults, then applies
// any of the persistent flags the caller actually set — flags win over
// the file, which wins over the built-in defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	defaults := config.Defaults()
	cfg, err := config.Load(cfgFile, defaults)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := flags.GetString("control-listen"); v != "" {
		cfg.ControlListen = v
	}
	if v, _ := flags.GetString("storage-root"); v != "" {
		cfg.StorageRoot = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}
