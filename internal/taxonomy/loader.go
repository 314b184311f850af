package taxonomy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultBundleURL is the published enterprise ATT&CK STIX bundle.
const DefaultBundleURL = "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"

const defaultFetchTimeout = 30 * time.Second

// Fetch downloads and parses the bundle from url. Unlike Load it reports
// failures to the caller.
func Fetch(ctx context.Context, url string, timeout time.Duration) (*Taxonomy, error) {
	if url == "" {
		url = DefaultBundleURL
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: fetch bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("taxonomy: bundle fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read bundle: %w", err)
	}

	return Parse(data)
}

// LoadFile parses the bundle from a local file.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Load is the fail-soft entry point used at startup. A local file takes
// precedence over the network; either source gets a single attempt and any
// failure degrades to an empty taxonomy so the rest of the pipeline keeps
// running in silent no-match mode.
func Load(ctx context.Context, url, file string, timeout time.Duration, verbose bool) *Taxonomy {
	var (
		tax *Taxonomy
		err error
	)
	if file != "" {
		tax, err = LoadFile(file)
	} else {
		tax, err = Fetch(ctx, url, timeout)
	}
	if err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "[taxonomy] load failed, matching disabled: %v\n", err)
		}
		return Empty(err.Error())
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "[taxonomy] loaded %d techniques, %d malware families\n",
			len(tax.Techniques), len(tax.MalwareNames))
	}
	return tax
}
