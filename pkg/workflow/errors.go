package workflow

import "errors"

var ErrInvalidSubmission = errors.New("invalid submission")
