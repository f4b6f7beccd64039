// Package repo implements the repository metadata subsystem: the
// repository descriptor, OpenPGP verification of release manifests,
// and the on-disk metadata store with atomic refresh.
package repo

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// mirrorlistScheme prefixes a source whose target is a one-URL-per-line
// mirror list rather than a repository base URL.
const mirrorlistScheme = "mirrorlist+"

// Repository describes one configured repository: where its metadata
// lives, which distribution and components to track, and which keys
// are trusted to sign its release manifest.
type Repository struct {
	Name         string
	Source       string
	Distribution string
	Components   []string
	// KeyPaths are the trusted keyring files, already resolved
	// against the keys directory.
	KeyPaths []string
}

// Mirrors resolves the source into an ordered base URL list. A plain
// source yields itself; a mirrorlist+ source is fetched (or read from
// disk) and parsed one URL per line, with blank lines and # comments
// ignored.
func (r *Repository) Mirrors(ctx context.Context, client *http.Client) ([]string, error) {
	if !strings.HasPrefix(r.Source, mirrorlistScheme) {
		return []string{strings.TrimRight(r.Source, "/")}, nil
	}
	target := strings.TrimPrefix(r.Source, mirrorlistScheme)

	var lines []string
	var err error
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		lines, err = fetchLines(ctx, client, target)
	} else {
		lines, err = readLines(target)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "resolving mirror list for repository %s", r.Name)
	}

	var mirrors []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		mirrors = append(mirrors, strings.TrimRight(line, "/"))
	}
	if len(mirrors) == 0 {
		return nil, errors.Errorf("mirror list for repository %s is empty", r.Name)
	}
	return mirrors, nil
}

func fetchLines(ctx context.Context, client *http.Client, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status: %s", resp.Status)
	}
	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
