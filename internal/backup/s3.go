package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
)

const defaultRegion = "us-east-1"

// S3Config holds the endpoint and static credentials for uploads.
type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// S3Uploader copies snapshots to a bucket with the aws CLI.
type S3Uploader struct {
	bucket string
	prefix string
	cfg    S3Config
}

// NewS3Uploader parses bucketURL (s3://bucket[/prefix]) and checks that the
// credentials and the aws binary are available.
func NewS3Uploader(bucketURL string, cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := parseBucketURL(bucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("s3: access key and secret key are required")
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, errors.New("s3: aws cli not found in PATH")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}
	return &S3Uploader{bucket: bucket, prefix: prefix, cfg: cfg}, nil
}

// UploadFile copies localPath to s3://bucket/prefix/<basename>.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	cmd := exec.CommandContext(ctx, "aws", u.copyArgs(localPath)...)
	cmd.Env = append(os.Environ(), u.env()...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("s3: aws s3 cp: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (u *S3Uploader) copyArgs(localPath string) []string {
	key := path.Join(u.prefix, path.Base(localPath))
	args := []string{"s3", "cp", localPath, "s3://" + u.bucket + "/" + key,
		"--region", u.cfg.Region, "--only-show-errors"}
	if endpoint := endpointURL(u.cfg.Endpoint, u.cfg.UseSSL); endpoint != "" {
		args = append(args, "--endpoint-url", endpoint)
	}
	return args
}

func (u *S3Uploader) env() []string {
	env := []string{
		"AWS_ACCESS_KEY_ID=" + u.cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY=" + u.cfg.SecretKey,
		"AWS_DEFAULT_REGION=" + u.cfg.Region,
	}
	if strings.TrimSpace(u.cfg.SessionToken) != "" {
		env = append(env, "AWS_SESSION_TOKEN="+u.cfg.SessionToken)
	}
	return env
}

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func parseBucketURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse bucket url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", errors.New("s3: bucket url must use the s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", errors.New("s3: bucket url is missing the bucket name")
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
