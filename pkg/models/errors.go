package models

import "errors"

// ErrMalformedResponse marks a collaborator payload missing expected fields.
var ErrMalformedResponse = errors.New("malformed response")
