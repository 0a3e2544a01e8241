package services

import "errors"

var (
	// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	// ErrPromotionInvalidCode signals the supplied promotion code is missing or invalid.
	ErrPromotionInvalidCode = errors.New("promotion service: invalid promotion code")
	// ErrPromotionNotFound indicates no promotion exists for the provided code.
	ErrPromotionNotFound = errors.New("promotion service: promotion not found")
	// ErrPromotionInvalidInput signals malformed promotion admin input.
	ErrPromotionInvalidInput = errors.New("promotion service: invalid input")
	// ErrPromotionConflict indicates a duplicate code or concurrent update.
	ErrPromotionConflict = errors.New("promotion service: conflict")
)
