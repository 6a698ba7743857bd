package httpserver

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateRunID validates a run identifier (decision, scraper, forecast,
// inventory policy or optimisation run).
func ValidateRunID(runID string) ValidationResult {
	if runID == "" {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "run_id",
					Code:    "REQUIRED",
					Message: "run_id is required",
				},
			},
		}
	}

	// Check length
	if len(runID) > 100 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "run_id",
					Code:    "TOO_LONG",
					Message: "run_id is too long (max 100 characters)",
				},
			},
		}
	}

	// Check for valid characters (alphanumeric, hyphens, underscores)
	validRunID := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !validRunID.MatchString(runID) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "run_id",
					Code:    "INVALID_FORMAT",
					Message: "run_id contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidatePagination validates pagination parameters
func ValidatePagination(page, limit string) ValidationResult {
	var errors []ValidationError

	// Validate page
	if page != "" {
		pageNum, err := strconv.Atoi(page)
		if err != nil || pageNum < 1 {
			errors = append(errors, ValidationError{
				Field:   "page",
				Code:    "INVALID_FORMAT",
				Message: "Page must be a positive integer",
			})
		}
	}

	// Validate limit
	if limit != "" {
		limitNum, err := strconv.Atoi(limit)
		if err != nil || limitNum < 1 || limitNum > 100 {
			errors = append(errors, ValidationError{
				Field:   "limit",
				Code:    "INVALID_FORMAT",
				Message: "Limit must be between 1 and 100",
			})
		}
	}

	if len(errors) > 0 {
		return ValidationResult{
			Valid:  false,
			Errors: errors,
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateSearchQuery validates a search query
func ValidateSearchQuery(query string) ValidationResult {
	if query == "" {
		return ValidationResult{Valid: true}
	}

	// Check length
	if len(query) > 200 {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "search",
					Code:    "TOO_LONG",
					Message: "Search query is too long (max 200 characters)",
				},
			},
		}
	}

	// Check for valid characters (no special characters that could be used for injection)
	validQuery := regexp.MustCompile(`^[a-zA-Z0-9\s_-]+$`)
	if !validQuery.MatchString(query) {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{
					Field:   "search",
					Code:    "INVALID_FORMAT",
					Message: "Search query contains invalid characters",
				},
			},
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateStatus validates a run status filter.
func ValidateStatus(status string) ValidationResult {
	if status == "" {
		return ValidationResult{Valid: true}
	}

	validStatuses := []string{"queued", "running", "succeeded", "failed", "infeasible"}
	for _, validStatus := range validStatuses {
		if status == validStatus {
			return ValidationResult{Valid: true}
		}
	}

	return ValidationResult{
		Valid: false,
		Errors: []ValidationError{
			{
				Field:   "status",
				Code:    "INVALID_VALUE",
				Message: "Status must be one of: queued, running, succeeded, failed, infeasible",
			},
		},
	}
}

// SanitizeString sanitizes a string input
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Limit length to prevent DoS
	if len(input) > 1000 {
		input = input[:1000]
	}

	// Ensure valid UTF-8
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}

	return input
}

// SanitizeRunID sanitizes a run identifier.
func SanitizeRunID(runID string) string {
	// Remove any potentially dangerous characters
	runID = regexp.MustCompile(`[^a-zA-Z0-9_-]`).ReplaceAllString(runID, "")

	// Limit length
	if len(runID) > 100 {
		runID = runID[:100]
	}

	return runID
}
