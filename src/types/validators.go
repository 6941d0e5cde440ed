package types

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	mobileBarcodePattern = regexp.MustCompile(`^/[A-Z0-9]{7}$`)
	taxIDPattern         = regexp.MustCompile(`^[0-9]{8}$`)
)

var (
	ErrDonateWithCarrier  = errors.New("donated invoices cannot carry a carrier code or tax id")
	ErrMissingCarrierCode = errors.New("mobile invoices require a carrier code")
	ErrInvalidCarrierCode = errors.New("carrier code must match /XXXXXXX")
	ErrInvalidTaxID       = errors.New("tax id must be exactly 8 digits")
	ErrUnknownInvoiceType = errors.New("unknown invoice type")
)

func IsMobileBarcode(code string) bool {
	return mobileBarcodePattern.MatchString(strings.ToUpper(code))
}

func IsTaxID(id string) bool {
	return taxIDPattern.MatchString(id)
}

// ValidateInvoice applies the per-type invoice rules.
func ValidateInvoice(t InvoiceType, carrierCode, taxID string) error {
	switch t {
	case INVOICE_DONATE:
		if carrierCode != "" || taxID != "" {
			return ErrDonateWithCarrier
		}
	case INVOICE_MOBILE:
		if carrierCode == "" {
			return ErrMissingCarrierCode
		}
		if !IsMobileBarcode(carrierCode) {
			return ErrInvalidCarrierCode
		}
		if taxID != "" && !IsTaxID(taxID) {
			return ErrInvalidTaxID
		}
	case INVOICE_PAPER:
		if taxID != "" && !IsTaxID(taxID) {
			return ErrInvalidTaxID
		}
	default:
		return ErrUnknownInvoiceType
	}
	return nil
}

var mobileBarcodeValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	code, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return IsMobileBarcode(code)
}

var taxIDValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	id, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return IsTaxID(id)
}

func RegisterValidators(v *validator.Validate) {
	v.RegisterValidation("mobilebarcode", mobileBarcodeValidatorFunc)
	v.RegisterValidation("taxid", taxIDValidatorFunc)
}
