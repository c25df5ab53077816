package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abusi/clhorde/internal/ipc"
	"github.com/abusi/clhorde/internal/wire"
)

var tailCmd = &cobra.Command{
	Use:   "tail <prompt-id>",
	Short: "Stream a prompt's output as it runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

func runTail(_ *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid prompt id %q: %w", args[0], err)
	}

	conn, err := dialDaemon()
	if err != nil {
		return err
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if err := sendRequest(conn, ipc.Request{Type: ipc.VerbGetPromptOutput, PromptID: id}); err != nil {
		return err
	}
	msg, err := readReply(r)
	if err != nil {
		return err
	}
	if msg.Type == ipc.MsgError {
		return fmt.Errorf("daemon: %s", msg.Message)
	}
	fmt.Print(msg.Output)

	if err := sendRequest(conn, ipc.Request{Type: ipc.VerbSubscribe}); err != nil {
		return err
	}

	for {
		frame, err := wire.Decode(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}

		switch frame.Kind {
		case wire.KindPTY:
			if int(frame.PromptID) == id {
				os.Stdout.Write(frame.Data)
			}
		case wire.KindJSON:
			var m ipc.Message
			if err := json.Unmarshal(frame.Payload, &m); err != nil {
				continue
			}
			switch m.Type {
			case ipc.MsgPromptUpdated:
				if m.Prompt != nil && m.Prompt.ID == id && m.Prompt.Status.IsTerminal() {
					fmt.Fprintf(os.Stderr, "\n[%s]\n", m.Prompt.Status)
					return nil
				}
			case ipc.MsgPromptRemoved:
				if m.PromptID == id {
					fmt.Fprintln(os.Stderr, "\n[removed]")
					return nil
				}
			}
		}
	}
}
