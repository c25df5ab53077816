package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abusi/clhorde/internal/ipc"
)

var (
	submitMode     string
	submitWorktree bool
	submitCwd      string
)

var submitCmd = &cobra.Command{
	Use:   "submit [text...]",
	Short: "Submit a prompt to a running daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitMode, "mode", "", "oneshot or interactive (default: daemon's current default)")
	submitCmd.Flags().BoolVar(&submitWorktree, "worktree", false, "run in a fresh git worktree")
	submitCmd.Flags().StringVar(&submitCwd, "cwd", "", "working directory for the worker (default: current directory)")
}

func runSubmit(_ *cobra.Command, args []string) error {
	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer conn.Close()

	cwd := submitCwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}

	if err := sendRequest(conn, ipc.Request{
		Type:     ipc.VerbSubmitPrompt,
		Text:     strings.Join(args, " "),
		Cwd:      cwd,
		Mode:     submitMode,
		Worktree: submitWorktree,
	}); err != nil {
		return err
	}

	msg, err := readReply(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if msg.Type == ipc.MsgError {
		return fmt.Errorf("daemon: %s", msg.Message)
	}
	if msg.Prompt != nil {
		fmt.Printf("submitted prompt %d\n", msg.Prompt.ID)
	}
	return nil
}
