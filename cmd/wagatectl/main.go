package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:           "wagatectl",
		Short:         "Command-line client for the wagate messaging gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&apiBase, "api", "http://localhost:8080", "Base URL of the wagate API")

	cmd.AddCommand(newLoginCommand(&apiBase))
	cmd.AddCommand(newLogoutCommand(&apiBase))
	cmd.AddCommand(newStatusCommand(&apiBase))
	cmd.AddCommand(newQRCommand(&apiBase))
	cmd.AddCommand(newSendCommand(&apiBase))
	cmd.AddCommand(newMessageStatusCommand(&apiBase))
	cmd.AddCommand(newMessageHistoryCommand(&apiBase))
	return cmd
}

func newLoginCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Initialize the bridge session and request a pairing code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, *apiBase+"/login", nil)
		},
	}
}

func newLogoutCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Tear down the bridge session and schedule credential deletion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, *apiBase+"/logout", nil)
		},
	}
}

func newStatusCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the connection state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, *apiBase+"/status/"+url.PathEscape(args[0]), nil)
		},
	}
}

func newQRCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "qr <session-id>",
		Short: "Fetch the current pairing code for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, *apiBase+"/qr/"+url.PathEscape(args[0]), nil)
		},
		Args: cobra.ExactArgs(1),
	}
}

func newSendCommand(apiBase *string) *cobra.Command {
	var (
		to      string
		message string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Queue a text message for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"to": to, "message": message}
			return call(cmd.OutOrStdout(), http.MethodPost, *apiBase+"/send-message", body)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient phone number or address")
	cmd.Flags().StringVar(&message, "message", "", "Message body")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newMessageStatusCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "message-status <to>",
		Short: "Show the latest delivery outcome for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, *apiBase+"/message-status/"+url.PathEscape(args[0]), nil)
		},
	}
}

func newMessageHistoryCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "message-history <to>",
		Short: "List all delivery attempts recorded for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, *apiBase+"/message-history/"+url.PathEscape(args[0]), nil)
		},
	}
}

// call performs one API request and pretty-prints the JSON response. Non-2xx
// responses still print the body so the operator sees the API's error message,
// but the command exits non-zero.
func call(out io.Writer, method, target string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Fprintln(out, pretty.String())

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, target, resp.Status)
	}
	return nil
}
