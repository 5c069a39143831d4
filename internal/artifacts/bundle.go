package artifacts

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aelwyn/go-drafter/internal/domain"
)

// ErrBundleEmpty indicates a bundle build was requested with no artifacts.
var ErrBundleEmpty = errors.New("bundle requires at least one artifact")

// BuildBundle reads every referenced artifact, assembles a zip archive with
// one entry per reference (entry name is the artifact key), and stores the
// archive under bundleKey. Returns the reference of the stored bundle.
func BuildBundle(
	ctx context.Context, store Store, refs []domain.ArtifactRef, bundleKey string,
) (domain.ArtifactRef, error) {
	if bundleKey == "" {
		return domain.ArtifactRef{}, ErrArtifactKeyEmpty
	}
	if len(refs) == 0 {
		return domain.ArtifactRef{}, ErrBundleEmpty
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref.Key == "" {
			return domain.ArtifactRef{}, ErrArtifactKeyEmpty
		}
		if _, dup := seen[ref.Key]; dup {
			return domain.ArtifactRef{}, fmt.Errorf("duplicate artifact key in bundle: %q", ref.Key)
		}
		seen[ref.Key] = struct{}{}

		content, err := store.Get(ctx, ref)
		if err != nil {
			return domain.ArtifactRef{}, fmt.Errorf("failed to read artifact %q for bundle: %w", ref.Key, err)
		}

		entry, err := zw.Create(ref.Key)
		if err != nil {
			return domain.ArtifactRef{}, fmt.Errorf("failed to add %q to bundle: %w", ref.Key, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			return domain.ArtifactRef{}, fmt.Errorf("failed to write %q to bundle: %w", ref.Key, err)
		}
	}

	if err := zw.Close(); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("failed to finalize bundle archive: %w", err)
	}

	return store.Put(ctx, buf.String(), domain.ArtifactReportBundle, bundleKey)
}
