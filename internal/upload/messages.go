package upload

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/docdash/internal/client"
	"github.com/raphaelgruber/docdash/internal/models"
	"github.com/raphaelgruber/docdash/internal/retry"
)

// describeError turns a transmission failure into the message shown on the
// record and whether the user should be offered a retry.
func describeError(err error) (string, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message, false
	}

	retryable := retry.IsTransient(err)
	switch client.ErrorCode(err) {
	case client.CodeFileTooLarge:
		return "File is too large for the server to accept", false
	case client.CodeInvalidFile, client.CodeParseError:
		return "The file could not be read; it may be corrupted or password protected", false
	case client.CodeUnsupportedFormat:
		return "The server does not support this file format", false
	case client.CodeAIQuotaExceeded:
		return "Processing quota exceeded; try again later or contact your administrator", false
	case client.CodeNetworkError, client.CodeTimeout:
		return "Network error while uploading; check your connection and retry", true
	}

	if retry.IsNetwork(err) {
		return "Network error while uploading; check your connection and retry", true
	}
	if errors.Is(err, client.ErrMalformedResponse) {
		return "The server returned an unexpected response", false
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Sprintf("Upload failed: %s", apiErr.Message), retryable
	}
	return "Upload failed; please try again", retryable
}

func transitionMessage(name string, status models.TransferStatus, detail string) string {
	switch status {
	case models.TransferPending:
		return fmt.Sprintf("%s uploaded, waiting to be processed", name)
	case models.TransferProcessing:
		return fmt.Sprintf("%s is being processed", name)
	case models.TransferCompleted:
		return fmt.Sprintf("%s processed successfully", name)
	case models.TransferFailed:
		if detail != "" {
			return fmt.Sprintf("%s failed to process: %s", name, detail)
		}
		return fmt.Sprintf("%s failed to process", name)
	default:
		return fmt.Sprintf("%s is %s", name, status)
	}
}
