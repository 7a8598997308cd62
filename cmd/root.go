package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/migmoog/distsys-prj4/internal/debugfeed"
	"github.com/migmoog/distsys-prj4/internal/manifest"
	"github.com/migmoog/distsys-prj4/internal/nexus"
	"github.com/migmoog/distsys-prj4/internal/node"
	"github.com/migmoog/distsys-prj4/internal/tracelog"
	"github.com/migmoog/distsys-prj4/internal/wire"
	"github.com/spf13/cobra"
)

// bootDelay mirrors original_source/src/main.rs: a fixed pause after the
// mesh comes up, giving slower peers time to finish their own setup.
const bootDelay = 2 * time.Second

var (
	hostsfile string
	value     string
	delaySecs int64
	debugAddr string
)

var rootCmd = &cobra.Command{
	Use:   "paxosnode",
	Short: "A single-decree Paxos participant",
	Long: `paxosnode reads a hosts manifest, connects to every other peer named
in it, and runs the role(s) (proposer, acceptor, learner) that manifest
assigns it for each stage until a value is chosen.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&hostsfile, "hostsfile", "f", "", "path to the hosts manifest (required)")
	rootCmd.Flags().StringVarP(&value, "value", "v", "", "single-character value to propose, if this node is a proposer")
	rootCmd.Flags().Int64VarP(&delaySecs, "delay", "t", 0, "seconds to sleep before proposing (non-negative)")
	rootCmd.Flags().StringVar(&debugAddr, "debug-addr", "", "if set, serve a read-only websocket trace feed on this address")
	rootCmd.MarkFlagRequired("hostsfile")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if delaySecs < 0 {
		return fmt.Errorf("--delay must be non-negative, got %d", delaySecs)
	}
	var proposeValue *wire.Value
	if value != "" {
		runes := []rune(value)
		if len(runes) != 1 {
			return fmt.Errorf("--value must be a single character, got %q", value)
		}
		v := wire.Value(runes[0])
		proposeValue = &v
	}

	if debugAddr != "" {
		feed := debugfeed.New()
		feed.Attach(tracelog.Stderr)
		go func() {
			if err := feed.ListenAndServe(debugAddr); err != nil {
				log.Printf("debugfeed: server exited: %v", err)
			}
		}()
	}

	man, err := manifest.Load(hostsfile)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	nx, err := nexus.New(ctx, man)
	if err != nil {
		return fmt.Errorf("building peer mesh: %w", err)
	}

	// Give slower peers time to finish their own setup before anything is
	// proposed.
	time.Sleep(bootDelay)

	n := node.New(man, nx, tracelog.Stderr)
	return n.Run(ctx, proposeValue, time.Duration(delaySecs)*time.Second)
}
