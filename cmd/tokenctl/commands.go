package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/config"
	repopg "github.com/tendant/simple-token/pkg/simpletoken/repo/postgres"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

func loadConfig() (*config.ServerConfig, error) {
	return config.Load(config.WithEnv())
}

// NewMigrateCommand applies the Postgres schema migrations.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseType != "postgres" {
				return fmt.Errorf("migrate requires a postgres DATABASE_URL, got %q", cfg.DatabaseType)
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			return repopg.Migrate(cfg.DatabaseURL, logger)
		},
	}
}

// NewSweepCommand expires lapsed tokens once.
func NewSweepCommand() *cobra.Command {
	var at int64

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire every pending or approved token past its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(comps *config.Components) error {
				now := time.Now()
				if at > 0 {
					now = time.Unix(at, 0)
				}
				n, err := comps.Service.SweepExpired(cmd.Context(), now)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d token(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "sweep as of this unix time instead of now")
	return cmd
}

// NewIssueUploadCommand issues and records an upload token for --owner.
// The operator acts as an elevated caller, so the record is approved on creation.
func NewIssueUploadCommand() *cobra.Command {
	var (
		owner   string
		bucket  string
		key     string
		purpose string
		ttl     time.Duration
		policy  string
	)

	cmd := &cobra.Command{
		Use:   "issue-upload",
		Short: "Issue and record an upload token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra map[string]any
			if policy != "" {
				if err := json.Unmarshal([]byte(policy), &extra); err != nil {
					return fmt.Errorf("invalid --policy JSON: %w", err)
				}
			}
			return withService(cmd, func(comps *config.Components) error {
				token, err := comps.Service.IssueUpload(cmd.Context(), operator(owner), simpletoken.IssueUploadRequest{
					Bucket:     bucket,
					ObjectKey:  key,
					Purpose:    purpose,
					TTLSeconds: ttlSeconds(ttl),
					Policy:     extra,
				})
				if err != nil {
					return err
				}
				return printToken(cmd, token)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "operator id recorded as owner and reviewer")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket (default: QINIU_BUCKET)")
	cmd.Flags().StringVar(&key, "key", "", "object key")
	cmd.Flags().StringVar(&purpose, "purpose", "", "why the token was issued")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: DEFAULT_TTL)")
	cmd.Flags().StringVar(&policy, "policy", "", "extra policy fields as a JSON object")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// NewIssueDownloadCommand issues and records a download token for --owner.
func NewIssueDownloadCommand() *cobra.Command {
	var (
		owner       string
		bucket      string
		key         string
		purpose     string
		originalURL string
		ttl         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-download",
		Short: "Issue and record a signed download URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(comps *config.Components) error {
				token, err := comps.Service.IssueDownload(cmd.Context(), operator(owner), simpletoken.IssueDownloadRequest{
					Bucket:      bucket,
					ObjectKey:   key,
					Purpose:     purpose,
					OriginalURL: originalURL,
					TTLSeconds:  ttlSeconds(ttl),
				})
				if err != nil {
					return err
				}
				return printToken(cmd, token)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "operator id recorded as owner and reviewer")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket (default: QINIU_BUCKET)")
	cmd.Flags().StringVar(&key, "key", "", "object key")
	cmd.Flags().StringVar(&purpose, "purpose", "", "why the token was issued")
	cmd.Flags().StringVar(&originalURL, "url", "", "object URL (default: QINIU_DOWNLOAD_DOMAIN/<key>)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "link lifetime (default: DEFAULT_TTL)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// NewVerifyCallbackCommand checks a callback Authorization header.
func NewVerifyCallbackCommand() *cobra.Command {
	var (
		path        string
		query       string
		contentType string
		bodyFile    string
	)

	cmd := &cobra.Command{
		Use:   "verify-callback <authorization>",
		Short: "Check a callback Authorization header against a path and body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sg, err := loadSigner()
			if err != nil {
				return err
			}
			var body []byte
			if bodyFile != "" {
				body, err = readBody(cmd, bodyFile)
				if err != nil {
					return err
				}
			}
			if !signer.NewVerifier(sg).Verify(args[0], path, query, body, contentType) {
				return errors.New("signature does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/callbacks/upload", "request path")
	cmd.Flags().StringVar(&query, "query", "", "raw query string without '?'")
	cmd.Flags().StringVar(&contentType, "content-type", "application/x-www-form-urlencoded", "request content type")
	cmd.Flags().StringVar(&bodyFile, "body", "", "file holding the request body ('-' for stdin)")
	return cmd
}

// NewEnvCommand lists the environment variables tokenctl and the server read.
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the configuration environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			help, err := config.EnvHelp()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), help)
			return nil
		},
	}
}

func loadSigner() (*signer.Signer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.BuildSigner()
}

// withService runs fn against the configured persistent store. The in-memory
// store is refused: whatever a command records there vanishes on exit.
func withService(cmd *cobra.Command, fn func(*config.Components) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseType == "memory" {
		return fmt.Errorf("%s requires a persistent DATABASE_URL (postgres or sqlite)", cmd.Name())
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())
	comps, err := cfg.BuildService(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
}

func operator(id string) simpletoken.Caller {
	return simpletoken.Caller{ID: id, Elevated: true}
}

func ttlSeconds(ttl time.Duration) int64 {
	return int64(ttl / time.Second)
}

func printToken(cmd *cobra.Command, token *simpletoken.Token) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(token)
}

func readBody(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
