package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baldanca/petition-preprocessor/queue"
)

func newCreateQueuesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create-queues",
		Short: "Provision the queues and destination tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, q := range rt.queues() {
				if err := q.CreateQueue(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue %s ready\n", q.Name())
			}
			if err := rt.dest.CreateTables(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "destination tables ready")
			return nil
		},
	}
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Enqueue JSON objects read from stdin, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			q, err := rt.queueByName(args[0])
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			n, line := 0, 0
			for scanner.Scan() {
				line++
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				var p queue.Payload
				if err := json.Unmarshal([]byte(text), &p); err != nil || p == nil {
					return fmt.Errorf("line %d: expected a JSON object", line)
				}
				if err := q.Enqueue(cmd.Context(), p); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				n++
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d item(s) to %s\n", n, q.Name())
			return nil
		},
	}
}

func newDepthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Show the approximate depth of every queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			rows := make([][]string, 0, 3)
			for _, q := range rt.queues() {
				n, err := q.Count(cmd.Context())
				if err != nil {
					return err
				}
				_, bulk := queue.AsBulk(q)
				rows = append(rows, []string{q.Name(), strconv.FormatInt(n, 10), strconv.FormatBool(bulk)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"queue", "depth", "bulk"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
