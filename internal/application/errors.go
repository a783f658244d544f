package application

import "errors"

// ErrNotConnected is returned when a sync or query targets a user/provider
// pair that has no stored credential.
var ErrNotConnected = errors.New("provider not connected for user")
