package face

import "errors"

var (
	ErrFaceLost      = errors.New("face left the frame after alignment")
	ErrNoLocator     = errors.New("face locator is required")
	ErrEmptyFaceRect = errors.New("empty face rectangle")
)
