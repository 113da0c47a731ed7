package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackfolio/gqlmux/internal/infra/gql"
)

var (
	queryVars     []string
	operationName string
	asMutation    bool
)

var queryCmd = &cobra.Command{
	Use:   "query <document>",
	Short: "Submit a GraphQL operation and print the result",
	Args:  cobra.ExactArgs(1),
	Run:   runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryVars, "var", nil, "operation variable as key=value (repeatable)")
	queryCmd.Flags().StringVar(&operationName, "operation-name", "", "operation name within the document")
	queryCmd.Flags().BoolVar(&asMutation, "mutation", false, "submit as a mutation (bypasses batching)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	vars, err := parseVars(queryVars)
	if err != nil {
		slog.Error("Invalid variable", "error", err)
		os.Exit(1)
	}

	tokens, cleanup, err := tokenStore(cfg)
	if err != nil {
		slog.Error("Failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	client := newClient(cfg, tokens)
	defer client.Close()

	op := gql.NewQuery(args[0], vars, operationName)
	if asMutation {
		op = gql.NewMutation(args[0], vars, operationName)
	}

	resp, err := client.Do(context.Background(), op)
	if err != nil {
		slog.Error("Operation failed", "id", op.ID, "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		slog.Error("Failed to render response", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// parseVars turns key=value pairs into a variables map. Values that parse
// as JSON are passed through typed; everything else is a string.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			vars[key] = typed
		} else {
			vars[key] = value
		}
	}
	return vars, nil
}
