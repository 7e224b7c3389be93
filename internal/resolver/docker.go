package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"
)

type craneDockerResolver struct{}

// ResolveDigest asks the image registry for the digest behind a reference.
// For a reference already pinned by digest, that digest is returned without
// a registry lookup.
func (craneDockerResolver) ResolveDigest(ctx context.Context, image string) (string, error) {
	if idx := strings.LastIndex(image, "@sha256:"); idx != -1 {
		return image[idx+1:], nil
	}

	digest, err := crane.Digest(image, crane.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to resolve digest for %s: %w", image, err)
	}
	return digest, nil
}
