// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	a2a "github.com/go-a2a/a2a-coordinator"
	"github.com/go-a2a/a2a-coordinator/client"
)

type sendOptions struct {
	url        string
	taskID     string
	sessionID  string
	stream     bool
	history    int
	pushURL    string
	pushToken  string
	outputMode []string
}

func newSendCommand() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to an A2A agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Discover(cmd.Context(), opts.url)
			if err != nil {
				return err
			}
			return runSend(cmd, c, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.url, "url", "u", "http://localhost:10000", "Base URL of the agent")
	cmd.Flags().StringVar(&opts.taskID, "task", "", "Task id (a new one when empty)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Session id (a new one when empty)")
	cmd.Flags().BoolVarP(&opts.stream, "stream", "s", false, "Stream task updates")
	cmd.Flags().IntVar(&opts.history, "history", 0, "Number of history messages to return")
	cmd.Flags().StringVar(&opts.pushURL, "push-url", "", "Webhook receiving push notifications")
	cmd.Flags().StringVar(&opts.pushToken, "push-token", "", "Token echoed to the push webhook")
	cmd.Flags().StringSliceVar(&opts.outputMode, "accept", nil, "Accepted output modes")

	return cmd
}

// sendParams builds the tasks/send parameters for message.
func (o sendOptions) sendParams(message string) *a2a.TaskSendParams {
	params := &a2a.TaskSendParams{
		ID:                  o.taskID,
		SessionID:           o.sessionID,
		Message:             *a2a.NewUserTextMessage(message),
		AcceptedOutputModes: o.outputMode,
		HistoryLength:       o.history,
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.SessionID == "" {
		params.SessionID = uuid.NewString()
	}
	if o.pushURL != "" {
		params.PushNotification = &a2a.PushNotificationConfig{URL: o.pushURL, Token: o.pushToken}
	}
	return params
}

func runSend(cmd *cobra.Command, c client.Client, opts sendOptions, message string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	params := opts.sendParams(message)

	fmt.Fprintf(out, "task %s (session %s)\n", params.ID, params.SessionID)

	if !opts.stream {
		t, err := c.SendTask(ctx, params)
		if err != nil {
			return err
		}
		printTask(out, t)
		return nil
	}

	for ev, err := range c.SendTaskSubscribe(ctx, params) {
		if err != nil {
			return err
		}
		printEvent(out, ev)
	}
	return nil
}

// printTask writes the status and artifacts of t.
func printTask(w io.Writer, t *a2a.Task) {
	printStatus(w, t.Status)
	for _, artifact := range t.Artifacts {
		fmt.Fprintf(w, "artifact: %s\n", partsText(artifact.Parts))
	}
}

// printEvent writes one streaming event.
func printEvent(w io.Writer, ev a2a.Event) {
	switch ev := ev.(type) {
	case *a2a.TaskStatusUpdateEvent:
		printStatus(w, ev.Status)
	case *a2a.TaskArtifactUpdateEvent:
		fmt.Fprintf(w, "artifact: %s\n", partsText(ev.Artifact.Parts))
	case *a2a.TaskErrorEvent:
		fmt.Fprintf(w, "error: %s\n", ev.Error.Message)
	}
}

func printStatus(w io.Writer, status a2a.TaskStatus) {
	if status.Message == nil {
		fmt.Fprintf(w, "[%s]\n", status.State)
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", status.State, partsText(status.Message.Parts))
}

func partsText(parts []a2a.Part) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == a2a.PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
