// Copyright 2025 The ripcd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripcd/ripcd/buffer"
	"github.com/ripcd/ripcd/session"
)

var (
	dialAddress  string
	dialHostname string
	dialTimeout  time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Dial a remote RIPC endpoint and send a ping, for smoke testing",
	Run: func(cmd *cobra.Command, args []string) {
		conn, err := net.DialTimeout("tcp", dialAddress, dialTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to dial %s: %v\n", dialAddress, err)
			os.Exit(1)
		}
		defer conn.Close()

		pool := buffer.NewPool("ripcd-dial", 6144)

		sess, err := session.Dial(conn, session.DialOptions{
			Pool:             pool,
			Hostname:         dialHostname,
			ComponentVersion: fmt.Sprintf("ripcd-dial/%s", version),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "handshake with %s failed: %v\n", dialAddress, err)
			os.Exit(1)
		}
		fmt.Printf("connected to %s: session=%s\n", dialAddress, sess.ID())

		if _, err := sess.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "ping failed: %v\n", err)
			_ = sess.Close()
			os.Exit(1)
		}
		fmt.Println("ping sent")

		if err := sess.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close failed: %v\n", err)
			os.Exit(1)
		}
	},
	Example: "# ripcd dial --address 127.0.0.1:14002",
}

func init() {
	dialCmd.Flags().StringVar(&dialAddress, "address", "127.0.0.1:14002", "Remote RIPC endpoint to dial")
	dialCmd.Flags().StringVar(&dialHostname, "hostname", "", "Hostname reported in the connect request")
	dialCmd.Flags().DurationVar(&dialTimeout, "timeout", 5*time.Second, "Dial timeout")
	rootCmd.AddCommand(dialCmd)
}
