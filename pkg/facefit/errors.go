package facefit

import "errors"

// Error taxonomy (§7). These are categories, not exhaustive type
// hierarchies: callers match with errors.Is against the sentinels below,
// or wrap them with additional context via fmt.Errorf("...: %w", err).
var (
	// ErrInputInvalid covers an empty or malformed cloud, a non-PLY header,
	// or a missing model asset. Always surfaced to the caller.
	ErrInputInvalid = errors.New("facefit: input invalid")

	// ErrEmptyInput is returned by geometry kernel operations given zero
	// points.
	ErrEmptyInput = errors.New("facefit: empty input")

	// ErrPointCloudTooSparse is returned when fewer than 200 usable points
	// remain after downsampling (§4.8).
	ErrPointCloudTooSparse = errors.New("facefit: point cloud too sparse")

	// ErrDivergedNonFinite is returned when the optimizer produces a
	// non-finite composite loss (§4.5).
	ErrDivergedNonFinite = errors.New("facefit: optimizer diverged to a non-finite loss")

	// ErrExternalFailure covers FLAME asset or landmark embedding load
	// failures.
	ErrExternalFailure = errors.New("facefit: external asset load failed")
)
