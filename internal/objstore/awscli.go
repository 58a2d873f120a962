package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/terraflow/internal/runner"
)

// CLIClient implements Client by driving `aws s3api` subcommands through
// the process runner. Arguments are passed as an argv array; bucket names
// and keys never touch a shell.
type CLIClient struct {
	runner  runner.Runner
	binary  string
	region  string
	timeout time.Duration
}

var _ Client = (*CLIClient)(nil)

// NewCLIClient creates an aws-CLI-backed client. timeout bounds each call;
// zero means no bound.
func NewCLIClient(r runner.Runner, binary, region string, timeout time.Duration) *CLIClient {
	if binary == "" {
		binary = "aws"
	}
	return &CLIClient{
		runner:  r,
		binary:  binary,
		region:  region,
		timeout: timeout,
	}
}

func (c *CLIClient) ListBuckets(ctx context.Context) ([]string, error) {
	res, err := c.s3api(ctx, "list-buckets")
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var out struct {
		Buckets []struct {
			Name string `json:"Name"`
		} `json:"Buckets"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("parse list-buckets output: %w", err)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

func (c *CLIClient) ListObjects(ctx context.Context, bucket string) ([]string, error) {
	res, err := c.s3api(ctx, "list-objects-v2", "--bucket", bucket)
	if err != nil {
		if isNoSuchBucket(err) {
			return nil, ErrBucketNotFound
		}
		return nil, fmt.Errorf("list objects in %q: %w", bucket, err)
	}

	// An empty bucket yields an empty body from the CLI.
	if strings.TrimSpace(res.Stdout) == "" {
		return nil, nil
	}

	var out struct {
		Contents []struct {
			Key string `json:"Key"`
		} `json:"Contents"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("parse list-objects output: %w", err)
	}

	keys := make([]string, 0, len(out.Contents))
	for _, o := range out.Contents {
		keys = append(keys, o.Key)
	}
	return keys, nil
}

func (c *CLIClient) DeleteObject(ctx context.Context, bucket, key string) error {
	if _, err := c.s3api(ctx, "delete-object", "--bucket", bucket, "--key", key); err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *CLIClient) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := c.s3api(ctx, "delete-bucket", "--bucket", bucket); err != nil {
		if isNoSuchBucket(err) {
			return ErrBucketNotFound
		}
		return fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	return nil
}

func (c *CLIClient) s3api(ctx context.Context, operation string, args ...string) (*runner.Result, error) {
	full := append([]string{operation}, args...)
	full = append(full, "--output", "json")
	if c.region != "" {
		full = append(full, "--region", c.region)
	}

	return c.runner.Run(ctx, runner.CommandSpec{
		Binary:     c.binary,
		Subcommand: "s3api",
		Args:       full,
		Timeout:    c.timeout,
	})
}

func isNoSuchBucket(err error) bool {
	var exitErr *runner.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return strings.Contains(exitErr.Stderr, "NoSuchBucket")
}
