package mongoclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/datapipelabs/changegate/retry"
	"github.com/datapipelabs/changegate/storeclient"
	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes we branch on.
const (
	codeUnauthorized                    = 13
	codeAuthenticationFailed            = 18
	codeAlreadyInitialized              = 23
	codeShutdownInProgress              = 91
	codeInvalidReplicaSetConfig         = 93
	codeNotYetInitialized               = 94
	codePrimarySteppedDown              = 189
	codeChangeStreamFatalError          = 280
	codeChangeStreamHistoryLost         = 286
	codeNotWritablePrimary              = 10107
	codeInterruptedAtShutdown           = 11600
	codeInterruptedDueToReplStateChange = 11602
	codeNotPrimaryNoSecondaryOk         = 13435
)

func hasServerErrorCode(err error, code int) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(code)
	}
	return false
}

// mapStoreError translates driver errors into the store-agnostic taxonomy:
// sentinels for states callers branch on, retry markers for everything else
// the supervisor needs to classify.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorCode(codeAlreadyInitialized):
			return fmt.Errorf("%w: %s", storeclient.ErrAlreadyInitialized, err)
		case se.HasErrorCode(codeChangeStreamHistoryLost):
			return fmt.Errorf("%w: %s", storeclient.ErrHistoryLost, err)
		case se.HasErrorCode(codeChangeStreamFatalError):
			return retry.Permanent(err)
		case se.HasErrorCode(codeUnauthorized),
			se.HasErrorCode(codeAuthenticationFailed):
			return retry.Permanent(err)
		case se.HasErrorCode(codeInvalidReplicaSetConfig):
			return retry.Permanent(err)
		case se.HasErrorCode(codeNotYetInitialized),
			se.HasErrorCode(codeNotWritablePrimary),
			se.HasErrorCode(codeNotPrimaryNoSecondaryOk),
			se.HasErrorCode(codePrimarySteppedDown),
			se.HasErrorCode(codeShutdownInProgress),
			se.HasErrorCode(codeInterruptedAtShutdown),
			se.HasErrorCode(codeInterruptedDueToReplStateChange):
			return retry.Transient(err)
		}
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.HasErrorLabel("ResumableChangeStreamError") {
		return retry.Transient(err)
	}

	// Handshake auth failures surface inside server selection errors, which
	// would otherwise classify as timeouts below.
	if msg := err.Error(); strings.Contains(msg, "AuthenticationFailed") ||
		strings.Contains(msg, "auth error") {
		return retry.Permanent(err)
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return retry.Transient(err)
	}

	return err
}
