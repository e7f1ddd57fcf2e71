// Package assets implements the SIGUSR2 model-asset installer: it fetches
// the background-removal model (u2net.onnx) from a private cloud bucket
// and atomically installs it at the configured destination path, so an
// operator can roll out a new model without rebuilding the binary.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/cloudauth"
	"github.com/warraft/raftbot/internal/config"
)

// Installer downloads a model asset from the configured cloud target and
// installs it at DestPath.
type Installer struct {
	cfg  config.AssetsConfig
	base http.RoundTripper
}

// New creates an Installer for cfg. base is the underlying transport used
// once cloud auth has been applied; nil means http.DefaultTransport.
func New(cfg config.AssetsConfig, base http.RoundTripper) *Installer {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Installer{cfg: cfg, base: base}
}

// Install downloads the configured asset and writes it to DestPath,
// replacing any existing file only after the download succeeds in full:
// the body is streamed to a temp file in the same directory, then renamed
// over the destination so a failed or interrupted download never leaves a
// truncated model file in place.
func (in *Installer) Install(ctx context.Context) error {
	url, transport, err := in.target(ctx)
	if err != nil {
		return boterror.New(boterror.KindAssets, "build-asset-request").With(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return boterror.New(boterror.KindAssets, "build-asset-request").With(err)
	}

	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		return boterror.New(boterror.KindAssets, "fetch-asset-failed").With(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return boterror.New(boterror.KindAssets, "fetch-asset-status").Withf("status=%d", resp.StatusCode)
	}

	if err := in.writeAtomic(resp.Body); err != nil {
		return boterror.New(boterror.KindAssets, "write-asset-failed").With(err)
	}

	return nil
}

// target returns the request URL and the cloud-auth transport for the
// configured hosting target.
func (in *Installer) target(ctx context.Context) (string, http.RoundTripper, error) {
	switch in.cfg.Hosting {
	case "s3":
		url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", in.cfg.Bucket, in.cfg.Region, in.cfg.ObjectKey)
		creds := credentials.NewStaticCredentialsProvider(
			os.Getenv("AWS_ACCESS_KEY_ID"),
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			os.Getenv("AWS_SESSION_TOKEN"),
		)
		return url, cloudauth.NewAWSSigV4Transport(in.base, creds, in.cfg.Region, "s3"), nil
	case "gcs":
		url := fmt.Sprintf("https://storage.googleapis.com/storage/v1/b/%s/o/%s?alt=media",
			in.cfg.Bucket, in.cfg.ObjectKey)
		transport, err := cloudauth.NewGCPOAuthTransport(ctx, in.base,
			"https://www.googleapis.com/auth/devstorage.read_only")
		if err != nil {
			return "", nil, err
		}
		return url, transport, nil
	default:
		return "", nil, fmt.Errorf("assets: unknown hosting %q, want s3 or gcs", in.cfg.Hosting)
	}
}

func (in *Installer) writeAtomic(body io.Reader) error {
	dir := filepath.Dir(in.cfg.DestPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".asset-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, in.cfg.DestPath)
}
