package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abusi/clhorde/internal/ipc"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts known to a running daemon",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(_ *cobra.Command, _ []string) error {
	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sendRequest(conn, ipc.Request{Type: ipc.VerbGetState}); err != nil {
		return err
	}

	msg, err := readReply(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if msg.Type == ipc.MsgError {
		return fmt.Errorf("daemon: %s", msg.Message)
	}

	for _, p := range msg.Prompts {
		fmt.Printf("%-4d %-10s %-12s %s\n", p.ID, p.Mode, p.Status, p.Text)
	}
	return nil
}
