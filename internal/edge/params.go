package edge

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

// Recognized query parameters. Anything else is ignored for forward
// compatibility.
const (
	paramFormat  = "format"
	paramWidth   = "width"
	paramHeight  = "height"
	paramFit     = "fit"
	paramQuality = "quality"
)

// parseParams extracts transform parameters from a raw query string.
// The present flag reports whether any recognized parameter appeared;
// when false the request takes the pass-through path. Malformed values
// are rejected rather than silently coerced.
func parseParams(query string) (req types.TransformRequest, present bool, err error) {
	if query == "" {
		return req, false, nil
	}

	values, parseErr := url.ParseQuery(query)
	if parseErr != nil {
		return req, false, errors.Wrap(errors.ErrCodeValidationFailed,
			"malformed query string", parseErr)
	}

	if v := values.Get(paramFormat); v != "" {
		present = true
		req.Format, err = types.ParseFormat(v)
		if err != nil {
			return req, true, err
		}
	}

	if v := values.Get(paramWidth); v != "" {
		present = true
		req.Width, err = parseDimension(paramWidth, v)
		if err != nil {
			return req, true, err
		}
	}

	if v := values.Get(paramHeight); v != "" {
		present = true
		req.Height, err = parseDimension(paramHeight, v)
		if err != nil {
			return req, true, err
		}
	}

	if v := values.Get(paramFit); v != "" {
		present = true
		req.Fit, err = types.ParseFitMode(v)
		if err != nil {
			return req, true, err
		}
	}

	if v := values.Get(paramQuality); v != "" {
		present = true
		q, convErr := strconv.Atoi(v)
		if convErr != nil || q < 1 || q > 100 {
			return req, true, errors.NewError(errors.ErrCodeValidationFailed,
				fmt.Sprintf("quality must be an integer between 1 and 100, got %q", v))
		}
		req.Quality = q
	}

	return req, present, nil
}

func parseDimension(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("%s must be a positive integer, got %q", name, value))
	}
	if n <= 0 {
		return 0, errors.NewError(errors.ErrCodeValidationFailed,
			fmt.Sprintf("%s must be a positive integer, got %d", name, n))
	}
	return n, nil
}
