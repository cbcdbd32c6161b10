package embeddings

import (
	"context"
	"fmt"
	"math"

	"memfuse/internal/rfcerrors"
)

// sanityProbeText is embedded at startup to verify the backend produces
// usable vectors.
const sanityProbeText = "retrieval pipeline sanity probe"

// CheckSanity verifies the embedding backend at startup: the probe embedding
// must have a nonzero finite norm, and hash-only backends are rejected when
// pilotMode is set. Failures are fatal pipeline errors.
func CheckSanity(ctx context.Context, svc Service, pilotMode bool) error {
	if pilotMode && svc.Model() == hashModel {
		return rfcerrors.SanityFailure("hash-only embedding backend is not allowed in pilot mode")
	}

	vec, err := svc.Generate(ctx, sanityProbeText)
	if err != nil {
		return rfcerrors.Wrap(rfcerrors.CodeSanityFailure, "sanity probe embedding failed", err)
	}
	if len(vec) == 0 {
		return rfcerrors.SanityFailure("sanity probe returned an empty embedding")
	}

	n := Norm(vec)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return rfcerrors.SanityFailure(fmt.Sprintf("sanity probe embedding has unusable norm %f", n))
	}
	return nil
}
