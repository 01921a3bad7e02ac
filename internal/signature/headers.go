package signature

import (
	"fmt"
	"net/http"
	"strings"
)

// Provider header names carried by every webhook delivery.
const (
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderSignature        = "Paypal-Transmission-Sig"
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
)

// Headers holds the signature material sent alongside a webhook body.
type Headers struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	Signature        string
	AuthAlgo         string
}

// HeadersFromHTTP extracts signature headers from an HTTP request header set.
func HeadersFromHTTP(header http.Header) Headers {
	return Headers{
		TransmissionID:   strings.TrimSpace(header.Get(HeaderTransmissionID)),
		TransmissionTime: strings.TrimSpace(header.Get(HeaderTransmissionTime)),
		CertURL:          strings.TrimSpace(header.Get(HeaderCertURL)),
		Signature:        strings.TrimSpace(header.Get(HeaderSignature)),
		AuthAlgo:         strings.TrimSpace(header.Get(HeaderAuthAlgo)),
	}
}

// Apply writes the headers onto an outgoing request header set.
func (headers Headers) Apply(target http.Header) {
	target.Set(HeaderTransmissionID, headers.TransmissionID)
	target.Set(HeaderTransmissionTime, headers.TransmissionTime)
	target.Set(HeaderCertURL, headers.CertURL)
	target.Set(HeaderSignature, headers.Signature)
	if headers.AuthAlgo != "" {
		target.Set(HeaderAuthAlgo, headers.AuthAlgo)
	}
}

func (headers Headers) validate() error {
	missing := make([]string, 0, 4)
	if headers.TransmissionID == "" {
		missing = append(missing, HeaderTransmissionID)
	}
	if headers.TransmissionTime == "" {
		missing = append(missing, HeaderTransmissionTime)
	}
	if headers.CertURL == "" {
		missing = append(missing, HeaderCertURL)
	}
	if headers.Signature == "" {
		missing = append(missing, HeaderSignature)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHeaders, strings.Join(missing, ", "))
	}
	return nil
}
