package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vramd/pkg/types"
)

// client talks to a running vramd.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 3 * time.Minute}}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e types.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show arbiter state and resident models of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st types.StatusResponse
			if err := newClient(opts.server).do(cmd.Context(), http.MethodGet, "/status", nil, &st); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newPrepareCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "prepare <provider> <model>",
		Short:   "Make a model resident, evicting everything else",
		Example: "  vramd prepare Ollama llama3.1:8b\n  vramd prepare LMStudio qwen2.5-7b-instruct",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.PrepareResponse
			req := types.PrepareRequest{Provider: args[0], Model: args[1]}
			if err := newClient(opts.server).do(cmd.Context(), http.MethodPost, "/prepare", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is active on %s\n", resp.Model, resp.Provider)
			return nil
		},
	}
}

func newUnloadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unload",
		Short: "Unload every resident model on every local backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.UnloadResponse
			if err := newClient(opts.server).do(cmd.Context(), http.MethodPost, "/unload", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unload issued for %d model(s)\n", resp.Freed)
			return nil
		},
	}
}

func newConfigShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			for _, k := range []*string{&cfg.LMStudio.APIKey, &cfg.Ollama.APIKey, &cfg.OpenAI.APIKey, &cfg.Anthropic.APIKey} {
				if *k != "" {
					*k = "***"
				}
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}
