package main

import (
	"fmt"
	"time"

	"github.com/mrmushfiq/image-gateway/internal/gateway/optimize"
	"github.com/mrmushfiq/image-gateway/internal/gateway/signing"
	"github.com/spf13/cobra"
)

func newSignCmd() *cobra.Command {
	var (
		secret string
		path   string
		key    string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed optimize URL path",
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := signPath(signing.Codec{}, secret, path, key, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "API key secret")
	cmd.Flags().StringVar(&path, "path", "", "optimize path, e.g. /w_300/example.com/cat.jpg")
	cmd.Flags().StringVar(&key, "key", "", "API key id to include in the URL")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "signature lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func signPath(codec signing.Codec, secret, path, key string, ttl time.Duration) (string, error) {
	p, err := optimize.DecomposePath(path)
	if err != nil {
		return "", err
	}
	canonical := p.Canonical()

	q := codec.SignQuery(secret, canonical, ttl)
	if key != "" {
		q.Set("key", key)
	}
	return canonical + "?" + q.Encode(), nil
}
