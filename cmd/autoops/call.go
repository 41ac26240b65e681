package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-autoops/internal/api"
)

func newCallCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call METHOD [JSON]",
		Short: "Invoke an Operations method on a running service",
		Example: `  autoops call DetectThreat '{"key":"cpu_usage","value":97}'
  autoops call ListHealthChecks`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parsePayload(args[1:])
			if err != nil {
				return err
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out, err := api.NewOperationsClient(conn).Call(ctx, args[0], in)
			if err != nil {
				return err
			}
			rendered, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(rendered))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "Operations service address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Call deadline")
	return cmd
}

func parsePayload(args []string) (*structpb.Struct, error) {
	if len(args) == 0 || args[0] == "" {
		return &structpb.Struct{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(args[0]), &fields); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return structpb.NewStruct(fields)
}
