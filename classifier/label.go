package classifier

import (
	"errors"
	"strings"
)

const paymentLabelPrefix = "payment"

var errMalformedLabel = errors.New("malformed payment label")

// PaymentLabel builds the label attached to every payment we broadcast.
func PaymentLabel(walletID, paymentID string) string {
	return paymentLabelPrefix + ":" + walletID + ":" + paymentID
}

// IsPaymentLabel reports whether the label claims to be one of ours,
// well-formed or not.
func IsPaymentLabel(label string) bool {
	return label == paymentLabelPrefix || strings.HasPrefix(label, paymentLabelPrefix+":")
}

// ParsePaymentLabel splits "payment:<wallet_id>:<payment_id>".
func ParsePaymentLabel(label string) (walletID, paymentID string, err error) {
	parts := strings.Split(label, ":")
	if len(parts) != 3 || parts[0] != paymentLabelPrefix {
		return "", "", errMalformedLabel
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", errMalformedLabel
	}
	return parts[1], parts[2], nil
}
