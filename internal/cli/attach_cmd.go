package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/josephschmitt/maestro/internal/attachtui"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/pkg/protocol"
)

var attachCmd = &cobra.Command{
	Use:   "attach <workspace-id>",
	Short: "Watch a running agent and forward input to it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

func init() {
	attachCmd.Flags().String("host", "127.0.0.1", "Daemon host")
	attachCmd.Flags().Int("port", 3100, "Daemon HTTP port")
	attachCmd.Flags().String("token", "", "Auth token (when the daemon requires one)")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	workspaceID := args[0]
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	token, _ := cmd.Flags().GetString("token")

	wsURL := url.URL{
		Scheme: "ws",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/ws/agent/" + workspaceID,
	}
	if token != "" {
		q := wsURL.Query()
		q.Set("token", token)
		wsURL.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL.String(), err)
	}
	defer conn.CloseNow()

	send := func(text string) error {
		return conn.Write(ctx, websocket.MessageText, []byte(text))
	}

	program := tea.NewProgram(
		attachtui.New(workspaceID, send),
		tea.WithAltScreen(),
	)

	// Pump websocket frames into the TUI.
	go func() {
		for {
			_, frame, err := conn.Read(ctx)
			if err != nil {
				program.Send(attachtui.DisconnectedMsg{Err: err})
				return
			}
			ev, err := protocol.DecodeWSEvent(frame)
			if err != nil {
				continue
			}
			if msg := toAttachMsg(ev); msg != nil {
				program.Send(msg)
			}
		}
	}()

	_, err = program.Run()
	return err
}

func toAttachMsg(ev *protocol.WSEvent) tea.Msg {
	switch ev.EventType {
	case events.TypeAgentOutput:
		var out events.AgentOutput
		json.Unmarshal(ev.Data, &out)
		return attachtui.OutputMsg{Stream: out.Stream, Line: out.Line}
	case events.TypeAgentLog:
		var log events.AgentLog
		json.Unmarshal(ev.Data, &log)
		return attachtui.LogMsg{Message: log.Message}
	case events.TypeAgentExit:
		var exit events.AgentExit
		json.Unmarshal(ev.Data, &exit)
		return attachtui.ExitMsg{Status: exit.Status, ExitCode: exit.ExitCode}
	case events.TypeAgentCrashed:
		return attachtui.CrashedMsg{}
	default:
		return nil
	}
}
