package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mule-Mart/Mule-Mart/internal/response"
	"github.com/labstack/echo/v4"
)

// normalizer is implemented by requests that clean their fields (trimming,
// lowercasing) before validation
type normalizer interface {
	Normalize()
}

// bindAndValidate binds the body into req and validates it. When ok is false
// the error response has already been written and err is what the handler
// must return.
func bindAndValidate(c echo.Context, req interface{}) (ok bool, err error) {
	if err := c.Bind(req); err != nil {
		return false, response.BadRequest(c, "Invalid request body")
	}
	if n, isNormalizer := req.(normalizer); isNormalizer {
		n.Normalize()
	}
	if err := c.Validate(req); err != nil {
		if fields := fieldErrors(err); fields != nil {
			return false, response.ValidationError(c, fields)
		}
		return false, err
	}
	return true, nil
}

func isJSONRequest(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

func isMultipartRequest(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// readFields collects string fields from a JSON object or a form body.
// Fields absent from the request are absent from the map; JSON numbers and
// booleans are converted to their text form.
func readFields(c echo.Context) (map[string]string, error) {
	fields := make(map[string]string)

	if isJSONRequest(c) {
		raw := make(map[string]interface{})
		if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
				fields[k] = ""
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				fields[k] = strconv.FormatBool(val)
			default:
				return nil, errors.New("unsupported value for " + k)
			}
		}
		return fields, nil
	}

	// Parses the body; PostForm leaves out the query string
	if _, err := c.FormParams(); err != nil {
		return nil, err
	}
	for k, v := range c.Request().PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

// formFile returns the named multipart file, or nil when the request has none
func formFile(c echo.Context, name string) (*multipart.FileHeader, error) {
	if !isMultipartRequest(c) {
		return nil, nil
	}
	fh, err := c.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fh, nil
}

// parseID parses a positive numeric path parameter
func parseID(c echo.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
