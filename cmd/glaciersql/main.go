/**
 * Copyright 2021 The GlacierSQL Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dr0pdb/glaciersql/pkg/common"
	"github.com/dr0pdb/glaciersql/pkg/engine"
	"github.com/dr0pdb/glaciersql/pkg/server"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configFlag   string
		snapshotFlag string
		verboseFlag  bool
	)

	rootCmd := &cobra.Command{
		Use:   "glaciersql",
		Short: "An in-memory relational database engine",
		Long: `glaciersql is an in-memory relational database engine with an
SQL-like query surface: typed tables, secondary hash indexes, referential
integrity, hash joins, grouped aggregation and undo transactions. The full
database state can be snapshotted to a file and restored from it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				log.SetLevel(log.InfoLevel)
			} else {
				log.SetLevel(log.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose logging")

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive SQL shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			db := engine.New("glaciersql")
			if snapshotFlag != "" {
				if _, err := os.Stat(snapshotFlag); err == nil {
					if err := db.LoadFile(snapshotFlag); err != nil {
						return err
					}
					fmt.Printf("loaded snapshot %s\n", snapshotFlag)
				}
			}
			return runShell(db, snapshotFlag)
		},
	}
	shellCmd.Flags().StringVar(&snapshotFlag, "snapshot", "", "snapshot file to load at start")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the execute endpoint over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := common.NewDefaultServerConfig()
			if configFlag != "" {
				conf.LoadFromFile(configFlag)
			}
			if err := conf.Validate(); err != nil {
				return err
			}

			db := engine.New("glaciersql")
			if conf.SnapshotPath != "" {
				if _, err := os.Stat(conf.SnapshotPath); err == nil {
					if err := db.LoadFile(conf.SnapshotPath); err != nil {
						return err
					}
				}
			}

			return server.New(db, conf).Start()
		},
	}
	serveCmd.Flags().StringVar(&configFlag, "config", "", "path to a yaml config file")

	rootCmd.AddCommand(shellCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runShell(db *engine.Database, snapshotPath string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "glaciersql> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("type \\help for help")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			// EOF
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "\\") || line == "quit" || line == "exit" {
			if done := runMetaCommand(db, line, snapshotPath); done {
				return nil
			}
			continue
		}

		res, err := db.Execute(line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		printResult(res)
	}
}

// runMetaCommand handles shell meta commands. It reports whether the shell
// should exit.
func runMetaCommand(db *engine.Database, line, snapshotPath string) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case "\\q", "quit", "exit":
		return true

	case "\\help":
		fmt.Println(`meta commands:
  \q | quit | exit       quit
  \save [path]           write a snapshot
  \load [path]           restore a snapshot
  \tables                list tables
  \help                  show help`)

	case "\\tables":
		for _, name := range db.TableNames() {
			fmt.Println(name)
		}

	case "\\save":
		path := snapshotPath
		if len(fields) > 1 {
			path = fields[1]
		}
		if path == "" {
			fmt.Println("usage: \\save <path>")
			break
		}
		if err := db.SaveFile(path); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Printf("saved %s\n", path)

	case "\\load":
		path := snapshotPath
		if len(fields) > 1 {
			path = fields[1]
		}
		if path == "" {
			fmt.Println("usage: \\load <path>")
			break
		}
		if err := db.LoadFile(path); err != nil {
			fmt.Printf("error: %v\n", err)
			break
		}
		fmt.Printf("loaded %s\n", path)

	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}

	return false
}

func printResult(res *engine.Result) {
	if res.Columns != nil {
		fmt.Println(strings.Join(res.Columns, "\t"))
		for _, row := range res.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = v.String()
			}
			fmt.Println(strings.Join(cells, "\t"))
		}
		fmt.Printf("(%d rows)\n", len(res.Rows))
		return
	}

	if res.Message != "" {
		fmt.Println(res.Message)
		return
	}
	fmt.Printf("ok (%d rows affected)\n", res.RowsAffected)
}
