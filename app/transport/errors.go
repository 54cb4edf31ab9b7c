// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/nstephens/glowworm/app/types"
)

// TransferError carries the classified failure kind alongside the message the
// server (or the transport) produced. The orchestrator feeds the kind into
// the retry policy.
type TransferError struct {
	Kind    types.ErrorKind
	Message string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindFromStatus maps an HTTP response status to an error kind.
func KindFromStatus(status int) types.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.ErrorKindAuthentication
	case status == http.StatusRequestEntityTooLarge:
		return types.ErrorKindFileTooLarge
	case status == http.StatusUnsupportedMediaType:
		return types.ErrorKindInvalidType
	case status == http.StatusTooManyRequests || status == http.StatusInsufficientStorage:
		return types.ErrorKindQuotaExceeded
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.ErrorKindTimeout
	case status >= http.StatusInternalServerError:
		return types.ErrorKindServer
	}
	return types.ErrorKindUnknown
}

// Classify extracts the error kind from any error the transport layer
// returned. Deadline expiry is a transient TIMEOUT even when the remote
// collaborator reported it, per the retry taxonomy.
func Classify(err error) types.ErrorKind {
	var terr *TransferError
	if errors.As(err, &terr) {
		return terr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.ErrorKindTimeout
		}
		return types.ErrorKindNetwork
	}

	if errors.Is(err, context.Canceled) {
		return types.ErrorKindNetwork
	}

	return types.ErrorKindUnknown
}
