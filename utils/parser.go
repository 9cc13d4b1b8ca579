package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/basedlink/basedlink-pay/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// decimal.Decimal is validated through its string form
	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = validate.RegisterValidation("txhash", func(fl validator.FieldLevel) bool {
		return IsValidTransactionHash(fl.Field().String())
	})
	_ = validate.RegisterValidation("evmaddress", func(fl validator.FieldLevel) bool {
		return IsValidAddress(fl.Field().String())
	})
	_ = validate.RegisterValidation("usdcamount", func(fl validator.FieldLevel) bool {
		_, err := ValidateAmount(fl.Field().String())
		return err == nil
	})
}

// Validator returns the shared validator with the payment tags registered.
func Validator() *validator.Validate {
	return validate
}

// ValidateStruct validates v against its struct tags.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return &types.PaylinkError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

type verificationRequestJSON struct {
	TransactionHash      string          `json:"transactionHash"`
	ExpectedAmount       decimal.Decimal `json:"expectedAmount"`
	ExpectedRecipient    string          `json:"expectedRecipient"`
	MinimumConfirmations *uint64         `json:"minimumConfirmations,omitempty"`
}

// ParseVerificationRequest decodes a JSON verification request. Unknown
// fields are rejected. An absent minimumConfirmations takes
// defaultConfirmations; an explicit 0 is kept.
//
// Field values are not validated here: a malformed hash or recipient is a
// verdict of VerifyTokenTransfer, not a decoding error.
func ParseVerificationRequest(data []byte, defaultConfirmations uint64) (*types.VerificationRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var body verificationRequestJSON
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &types.PaylinkError{Code: types.ErrInvalidRequest, Message: "request body is empty"}
		}
		return nil, &types.PaylinkError{Code: types.ErrInvalidRequest, Message: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &types.PaylinkError{Code: types.ErrInvalidRequest, Message: "unexpected data after request"}
	}

	req := &types.VerificationRequest{
		TransactionHash:      body.TransactionHash,
		ExpectedAmount:       body.ExpectedAmount,
		ExpectedRecipient:    body.ExpectedRecipient,
		MinimumConfirmations: defaultConfirmations,
	}
	if body.MinimumConfirmations != nil {
		req.MinimumConfirmations = *body.MinimumConfirmations
	}
	return req, nil
}
