// Package detect implements the update detection boundary: asking the
// release endpoint whether a newer compatible build exists for this product.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/version"
)

const (
	fetchTimeout    = 30 * time.Second
	maxManifestSize = 1 << 20 // 1MB
)

// UpdateDescriptor identifies one available update. The orchestrator treats
// everything beyond Version as opaque and hands the descriptor to the
// executor unchanged.
type UpdateDescriptor struct {
	Version     string `json:"version"`
	ProductType string `json:"product_type"`
	ArtifactURL string `json:"artifact_url"`
	SHA256      string `json:"sha256,omitempty"`
	MinVersion  string `json:"min_version,omitempty"`
	MaxVersion  string `json:"max_version,omitempty"`
}

// Detector is the detection collaborator contract. CheckForUpdate never
// returns an error for "no update available"; errors mean the check itself
// could not be completed.
type Detector interface {
	CheckForUpdate(ctx context.Context) (bool, *UpdateDescriptor, error)
}

// ManifestDetector fetches a JSON release manifest over HTTP and compares
// the advertised version against the running one.
type ManifestDetector struct {
	manifestURL    string
	productType    string
	currentVersion func() string
	client         *http.Client
}

// NewManifestDetector creates a detector for the given release endpoint.
// currentVersion is called on every check so an applied update is picked up
// without a daemon restart.
func NewManifestDetector(manifestURL, productType string, currentVersion func() string) *ManifestDetector {
	return &ManifestDetector{
		manifestURL:    manifestURL,
		productType:    productType,
		currentVersion: currentVersion,
		client:         &http.Client{Timeout: fetchTimeout},
	}
}

// CheckForUpdate fetches the manifest, retrying transient transport failures,
// and reports whether a newer compatible version is advertised.
func (d *ManifestDetector) CheckForUpdate(ctx context.Context) (bool, *UpdateDescriptor, error) {
	descriptor, err := d.fetchManifest(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("fetch manifest: %w", err)
	}

	advertised, err := goversion.NewVersion(descriptor.Version)
	if err != nil {
		return false, nil, fmt.Errorf("parse advertised version %q: %w", descriptor.Version, err)
	}

	current, err := goversion.NewVersion(d.currentVersion())
	if err != nil {
		current = version.Normalized()
		log.Warnf("unparsable running version %q, assuming %s: %v", d.currentVersion(), current, err)
	}

	if !advertised.GreaterThan(current) {
		log.Debugf("running version %s is up to date (advertised %s)", current, advertised)
		return false, nil, nil
	}

	if ok, reason := compatible(descriptor, current); !ok {
		log.Infof("version %s advertised but not compatible: %s", advertised, reason)
		return false, nil, nil
	}

	log.Infof("update available: %s -> %s", current, advertised)
	return true, descriptor, nil
}

// compatible applies the manifest's compatibility bounds against the running
// version.
func compatible(d *UpdateDescriptor, current *goversion.Version) (bool, string) {
	if d.MinVersion != "" {
		minV, err := goversion.NewVersion(d.MinVersion)
		if err != nil {
			return false, fmt.Sprintf("bad min_version %q", d.MinVersion)
		}
		if current.LessThan(minV) {
			return false, fmt.Sprintf("running %s is below min_version %s", current, minV)
		}
	}
	if d.MaxVersion != "" {
		maxV, err := goversion.NewVersion(d.MaxVersion)
		if err != nil {
			return false, fmt.Sprintf("bad max_version %q", d.MaxVersion)
		}
		if current.GreaterThan(maxV) {
			return false, fmt.Sprintf("running %s is above max_version %s", current, maxV)
		}
	}
	return true, ""
}

func (d *ManifestDetector) fetchManifest(ctx context.Context) (*UpdateDescriptor, error) {
	var descriptor *UpdateDescriptor

	operation := func() error {
		var err error
		descriptor, err = d.fetchOnce(ctx)
		return err
	}

	expBackOff := backoff.NewExponentialBackOff()
	expBackOff.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(expBackOff, ctx)); err != nil {
		return nil, err
	}
	return descriptor, nil
}

func (d *ManifestDetector) fetchOnce(ctx context.Context) (*UpdateDescriptor, error) {
	reqURL, err := d.requestURL()
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request manifest: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("error closing manifest response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("manifest endpoint returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	bs, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var descriptor UpdateDescriptor
	if err := json.Unmarshal(bs, &descriptor); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse manifest: %w", err))
	}
	if descriptor.Version == "" {
		return nil, backoff.Permanent(fmt.Errorf("manifest has no version"))
	}
	return &descriptor, nil
}

func (d *ManifestDetector) requestURL() (string, error) {
	u, err := url.Parse(d.manifestURL)
	if err != nil {
		return "", fmt.Errorf("bad manifest url %q: %w", d.manifestURL, err)
	}
	q := u.Query()
	q.Set("product", d.productType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
