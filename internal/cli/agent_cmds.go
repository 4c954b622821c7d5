package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/josephschmitt/maestro/internal/ipc"
)

// The agent-side commands talk to the daemon through the per-project
// socket named in MAESTRO_SOCKET. They only work inside an agent session.

func agentEnv() (socketPath, cardID string, err error) {
	socketPath = strings.TrimSpace(os.Getenv("MAESTRO_SOCKET"))
	if socketPath == "" {
		return "", "", fmt.Errorf("MAESTRO_SOCKET not set — are you running inside a maestro agent session?")
	}
	cardID = strings.TrimSpace(os.Getenv("MAESTRO_CARD_ID"))
	if cardID == "" {
		return "", "", fmt.Errorf("MAESTRO_CARD_ID not set — are you running inside a maestro agent session?")
	}
	return socketPath, cardID, nil
}

func sendAgentRequest(command string, payload map[string]any) error {
	socketPath, cardID, err := agentEnv()
	if err != nil {
		return err
	}

	resp, err := ipc.Send(socketPath, ipc.Request{
		Command: command,
		CardID:  cardID,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}

	if resp.Data != nil {
		out, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

var questionCmd = &cobra.Command{
	Use:   "question <text>",
	Short: "Surface an open question for the user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("question", map[string]any{"question": args[0]})
	},
}

var resolveQuestionCmd = &cobra.Command{
	Use:   "resolve-question",
	Short: "Resolve an open question",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			return fmt.Errorf("--id is required")
		}
		payload := map[string]any{"id": id}
		if resolution, _ := cmd.Flags().GetString("resolution"); resolution != "" {
			payload["resolution"] = resolution
		}
		return sendAgentRequest("resolve-question", payload)
	},
}

var addArtifactCmd = &cobra.Command{
	Use:   "add-artifact",
	Short: "Attach a markdown artifact to the current card",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		return sendAgentRequest("add-artifact", map[string]any{
			"name":    name,
			"content": string(content),
		})
	},
}

var setStatusCmd = &cobra.Command{
	Use:   "set-status <status>",
	Short: "Move the current card to a status (e.g. in-review)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("set-status", map[string]any{"status": args[0]})
	},
}

var logCmd = &cobra.Command{
	Use:   "log <message>",
	Short: "Record a progress note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("log", map[string]any{"message": args[0]})
	},
}

var getCardCmd = &cobra.Command{
	Use:   "get-card",
	Short: "Print the current card as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("get-card", map[string]any{})
	},
}

var getArtifactsCmd = &cobra.Command{
	Use:   "get-artifacts",
	Short: "Print the current card's artifacts as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("get-artifacts", map[string]any{})
	},
}

var getParentCmd = &cobra.Command{
	Use:   "get-parent",
	Short: "Print the parent card as JSON (null when top-level)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAgentRequest("get-parent", map[string]any{})
	},
}

func init() {
	resolveQuestionCmd.Flags().String("id", "", "Question ID to resolve")
	resolveQuestionCmd.Flags().String("resolution", "", "Resolution text")

	addArtifactCmd.Flags().String("file", "", "Path to the markdown file to attach")
	addArtifactCmd.Flags().String("name", "", "Display name (defaults to the file name)")

	rootCmd.AddCommand(
		questionCmd,
		resolveQuestionCmd,
		addArtifactCmd,
		setStatusCmd,
		logCmd,
		getCardCmd,
		getArtifactsCmd,
		getParentCmd,
	)
}
