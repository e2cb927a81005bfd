package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/federiconeri/wiggum/pkg/inbox"
)

func (c *cli) actionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Inspect and answer a loop's pending action request",
	}
	cmd.AddCommand(c.actionShowCmd())
	cmd.AddCommand(c.actionReplyCmd())
	cmd.AddCommand(c.actionAskCmd())
	cmd.AddCommand(c.actionCleanupCmd())
	return cmd
}

func (c *cli) actionShowCmd() *cobra.Command {
	var feature string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the pending action request",
		Long: `Show the pending action request for a feature.

A missing or malformed request file is reported as "no pending action".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := c.inbox().ReadRequest(feature)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, req)
			}
			if req == nil {
				fmt.Fprintf(out, "no pending action for %s\n", feature)
				return nil
			}
			fmt.Fprintf(out, "%s\n(request %s)\n", req.Prompt, req.ID)
			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"#", "Choice", "Label", "Default"})
			for i, ch := range req.Choices {
				def := ""
				if ch.ID == req.Default {
					def = "*"
				}
				tw.AppendRow(table.Row{i + 1, ch.ID, ch.Label, def})
			}
			tw.Render()
			return nil
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON (null when nothing is pending)")
	return cmd
}

func (c *cli) actionReplyCmd() *cobra.Command {
	var feature, choice, requestID string
	cmd := &cobra.Command{
		Use:   "reply",
		Short: "Answer the pending action request",
		Long: `Answer the pending action request.

The choice must be one the request offers. With --id, the reply is refused
unless the pending request still carries that id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := c.inbox()
			req, err := in.ReadRequest(feature)
			if err != nil {
				return err
			}
			if req == nil {
				return fmt.Errorf("no pending action for %s", feature)
			}
			if requestID != "" && requestID != req.ID {
				return fmt.Errorf("pending request is %s, not %s", req.ID, requestID)
			}
			if !req.HasChoice(choice) {
				return fmt.Errorf("%w: %q (offered: %s)", inbox.ErrUnknownChoice, choice, choiceIDs(req))
			}
			if err := in.WriteReply(feature, inbox.ActionReply{ID: req.ID, Choice: choice}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replied %q to %s\n", req.Label(choice), req.ID)
			return nil
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().StringVarP(&choice, "choice", "c", "", "choice id to send")
	cmd.Flags().StringVar(&requestID, "id", "", "only reply if the pending request has this id")
	_ = cmd.MarkFlagRequired("choice")
	return cmd
}

func choiceIDs(req *inbox.ActionRequest) string {
	ids := make([]string, 0, len(req.Choices))
	for _, ch := range req.Choices {
		ids = append(ids, ch.ID)
	}
	return strings.Join(ids, ", ")
}

func (c *cli) actionAskCmd() *cobra.Command {
	var (
		feature, prompt, def, requestID string
		options                         []string
		timeout                         time.Duration
		fallback                        bool
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask the operator a question and wait for the answer (loop side)",
		Long: `Write an action request, wait for the reply and print the chosen id.

Both files are removed afterwards. The command fails when the wait times out
or the request is abandoned, unless --fallback is set, in which case the
default choice is printed on timeout.`,
		Example: `  ralphctl action ask -f auth --prompt "Continue to next phase?" \
    --option y:Yes --option n:No --default y --timeout 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			choices, err := parseOptions(options)
			if err != nil {
				return err
			}
			if def == "" {
				def = choices[0].ID
			}
			req, err := inbox.NewRequest(prompt, choices, def)
			if err != nil {
				return err
			}
			if requestID != "" {
				req.ID = requestID
			}

			opts := c.cfg.PollOptions()
			if timeout > 0 {
				opts.Timeout = timeout
			}
			in := c.inbox()
			ask := in.Ask
			if fallback {
				ask = in.AskOrDefault
			}
			answer, err := ask(cmd.Context(), feature, req, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	requireFeature(cmd, &feature)
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "question to show the operator")
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "choice as id:label (repeatable)")
	cmd.Flags().StringVarP(&def, "default", "d", "", "default choice id (default: first option)")
	cmd.Flags().StringVar(&requestID, "id", "", "request id (default: random)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait (default from config)")
	cmd.Flags().BoolVar(&fallback, "fallback", false, "answer with the default choice on timeout")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("option")
	return cmd
}

// parseOptions turns "id:label" flags into choices. A bare "id" uses the id
// as its label.
func parseOptions(raw []string) ([]inbox.ActionChoice, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one --option is required")
	}
	seen := make(map[string]bool, len(raw))
	choices := make([]inbox.ActionChoice, 0, len(raw))
	for _, r := range raw {
		id, label, ok := strings.Cut(r, ":")
		id = strings.TrimSpace(id)
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			label = id
		}
		if id == "" {
			return nil, fmt.Errorf("invalid option %q: empty id", r)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate option %q", id)
		}
		seen[id] = true
		choices = append(choices, inbox.ActionChoice{ID: id, Label: label})
	}
	return choices, nil
}

func (c *cli) actionCleanupCmd() *cobra.Command {
	var feature string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the request and reply files",
		Long:  `Remove the request and reply files for a feature. Missing files are ignored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.inbox().Cleanup(feature)
		},
	}
	requireFeature(cmd, &feature)
	return cmd
}
