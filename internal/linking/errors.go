package linking

import "errors"

// Terminal domain errors, returned to the caller verbatim. Provider and
// transport failures from the discord and fetch packages pass through
// untranslated; the RPC layer folds them into its caller-facing enum.
var (
	ErrInvalidState       = errors.New("linking: invalid state payload")
	ErrInvalidLinkingCode = errors.New("linking: invalid linking code")
	ErrInvalidCode        = errors.New("linking: invalid authorization code")
	ErrAccessDenied       = errors.New("linking: required guild membership missing")
	ErrNotLinked          = errors.New("linking: no connection for player")
	ErrInvalidAuth        = errors.New("linking: no usable credential")
)
