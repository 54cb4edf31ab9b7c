// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

// ErrorKind classifies an upload failure for retry decisions and for the
// error panel.
type ErrorKind string

const (
	ErrorKindNetwork        ErrorKind = "NETWORK_ERROR"
	ErrorKindServer         ErrorKind = "SERVER_ERROR"
	ErrorKindFileTooLarge   ErrorKind = "FILE_TOO_LARGE"
	ErrorKindInvalidType    ErrorKind = "INVALID_FILE_TYPE"
	ErrorKindTimeout        ErrorKind = "TIMEOUT"
	ErrorKindQuotaExceeded  ErrorKind = "QUOTA_EXCEEDED"
	ErrorKindAuthentication ErrorKind = "AUTHENTICATION_ERROR"
	ErrorKindUnknown        ErrorKind = "UNKNOWN"
)

// Permanent reports whether no number of retries can resolve this failure.
// Validation failures are permanent by definition; quota and authentication
// failures occur at transfer time but are explicitly excluded from the
// retryable set as well.
func (k ErrorKind) Permanent() bool {
	switch k {
	case ErrorKindFileTooLarge, ErrorKindInvalidType, ErrorKindQuotaExceeded, ErrorKindAuthentication:
		return true
	}
	return false
}

func (k ErrorKind) String() string {
	return string(k)
}
