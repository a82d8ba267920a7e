package modelpack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

var opIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("opid", func(fl validator.FieldLevel) bool {
		return opIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("registering opid validation: %v", err))
	}
	return v
}

func validateStruct(what string, v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			msgs := make([]string, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errdefs.Newf(errdefs.ErrSchema, "%s: %s", what, strings.Join(msgs, "; "))
		}
		return errdefs.Wrapf(errdefs.ErrSchema, err, "validating %s", what)
	}
	return nil
}

// decodeStrict decodes a single JSON document, rejecting unknown fields and trailing data.
func decodeStrict(path string, data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errdefs.Wrapf(errdefs.ErrSchema, err, "decoding %s", path)
	}
	if _, err := dec.Token(); err != io.EOF {
		return errdefs.Newf(errdefs.ErrSchema, "decoding %s: unexpected data after document", path)
	}
	return nil
}

// ArrayDType parses a tensor dtype descriptor of the form Array[<dtype>].
func (s IOSpec) ArrayDType() (tensor.DType, error) {
	switch {
	case s.ContentType == ContentJSON:
		return "", errdefs.Newf(errdefs.ErrUnsupportedContent, "%q: JSON content is not supported", s.Name)
	case s.ContentType != ContentNDJSON:
		return "", errdefs.Newf(errdefs.ErrUnsupportedContent, "%q: unknown content type %q", s.Name, s.ContentType)
	case strings.HasPrefix(s.DType, "NDContainer["):
		return "", errdefs.Newf(errdefs.ErrUnsupportedContent, "%q: NDContainer dtypes are not supported", s.Name)
	}

	inner, ok := strings.CutPrefix(s.DType, "Array[")
	if ok {
		inner, ok = strings.CutSuffix(inner, "]")
	}
	if !ok {
		return "", errdefs.Newf(errdefs.ErrSchema, "%q: invalid NDJSON dtype %q, must be Array[...] or NDContainer[...]", s.Name, s.DType)
	}
	dt := tensor.DType(inner)
	if !dt.Valid() {
		return "", errdefs.Newf(errdefs.ErrUnsupportedContent, "%q: unsupported Array dtype %q", s.Name, inner)
	}
	return dt, nil
}
