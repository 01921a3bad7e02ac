package signature_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature/signaturetest"
)

const (
	webhookIDValue = "WH-ID-1"
	bodyValue      = `{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"TXN1"}}`
)

func mustCertificateVerifier(test *testing.T, authority *signaturetest.Authority) *signature.Verifier {
	test.Helper()
	scheme, err := signature.NewCertificateScheme(authority.Resolver())
	if err != nil {
		test.Fatalf("scheme: %v", err)
	}
	verifier, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue, Scheme: scheme})
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	return verifier
}

func mustHMACScheme(test *testing.T) *signature.HMACScheme {
	test.Helper()
	scheme, err := signature.NewHMACScheme([]byte("shared-secret"))
	if err != nil {
		test.Fatalf("scheme: %v", err)
	}
	return scheme
}

func TestSigningStringUsesRawBodyCRC32(test *testing.T) {
	test.Parallel()
	verifier, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue, Scheme: mustHMACScheme(test)})
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	headers := signature.Headers{TransmissionID: "T1", TransmissionTime: "2024-05-01T10:00:00Z"}
	got := verifier.SigningString(headers, []byte("hello"))
	// crc32("hello") = 907060870
	want := "T1|2024-05-01T10:00:00Z|WH-ID-1|907060870"
	if got != want {
		test.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSigningStringSHA256Digest(test *testing.T) {
	test.Parallel()
	verifier, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue, Digest: signature.DigestSHA256, Scheme: mustHMACScheme(test)})
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	got := verifier.SigningString(signature.Headers{TransmissionID: "T1", TransmissionTime: "now"}, []byte("hello"))
	want := "T1|now|WH-ID-1|2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		test.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCertificateVerifierAcceptsValidSignature(test *testing.T) {
	test.Parallel()
	authority := signaturetest.NewAuthority(test)
	verifier := mustCertificateVerifier(test, authority)
	body := []byte(bodyValue)
	headers := authority.SignedHeaders(test, verifier, "T-valid", body)

	if err := verifier.Verify(context.Background(), headers, body); err != nil {
		test.Fatalf("expected valid signature, got %v", err)
	}
}

func TestCertificateVerifierRejections(test *testing.T) {
	test.Parallel()
	authority := signaturetest.NewAuthority(test)
	verifier := mustCertificateVerifier(test, authority)
	body := []byte(bodyValue)

	testCases := []struct {
		name    string
		mutate  func(headers *signature.Headers, body *[]byte)
		wantErr error
	}{
		{name: "missing transmission id", mutate: func(headers *signature.Headers, _ *[]byte) { headers.TransmissionID = "" }, wantErr: signature.ErrMissingHeaders},
		{name: "missing transmission time", mutate: func(headers *signature.Headers, _ *[]byte) { headers.TransmissionTime = "" }, wantErr: signature.ErrMissingHeaders},
		{name: "missing cert url", mutate: func(headers *signature.Headers, _ *[]byte) { headers.CertURL = "" }, wantErr: signature.ErrMissingHeaders},
		{name: "missing signature", mutate: func(headers *signature.Headers, _ *[]byte) { headers.Signature = "" }, wantErr: signature.ErrMissingHeaders},
		{name: "non base64 signature", mutate: func(headers *signature.Headers, _ *[]byte) { headers.Signature = "***" }, wantErr: signature.ErrMalformedSignature},
		{name: "unsupported algorithm", mutate: func(headers *signature.Headers, _ *[]byte) { headers.AuthAlgo = "MD5withRSA" }, wantErr: signature.ErrMalformedSignature},
		{name: "ecdsa algorithm with rsa key", mutate: func(headers *signature.Headers, _ *[]byte) { headers.AuthAlgo = signature.AlgorithmSHA256WithECDSA }, wantErr: signature.ErrVerificationFailed},
		{name: "tampered body", mutate: func(_ *signature.Headers, body *[]byte) { *body = []byte(strings.Replace(bodyValue, "TXN1", "TXN2", 1)) }, wantErr: signature.ErrVerificationFailed},
		{name: "reserialized body", mutate: func(_ *signature.Headers, body *[]byte) { *body = []byte(strings.ReplaceAll(bodyValue, ",", ", ")) }, wantErr: signature.ErrVerificationFailed},
		{name: "different transmission id", mutate: func(headers *signature.Headers, _ *[]byte) { headers.TransmissionID = "T-other" }, wantErr: signature.ErrVerificationFailed},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			headers := authority.SignedHeaders(test, verifier, "T-reject", body)
			candidate := append([]byte(nil), body...)
			testCase.mutate(&headers, &candidate)
			err := verifier.Verify(context.Background(), headers, candidate)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestCertificateVerifierRejectsForeignKey(test *testing.T) {
	test.Parallel()
	trusted := signaturetest.NewAuthority(test)
	attacker := signaturetest.NewAuthority(test)
	verifier := mustCertificateVerifier(test, trusted)
	body := []byte(bodyValue)
	headers := attacker.SignedHeaders(test, verifier, "T-forged", body)

	if err := verifier.Verify(context.Background(), headers, body); !errors.Is(err, signature.ErrVerificationFailed) {
		test.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestHMACVerifier(test *testing.T) {
	test.Parallel()
	scheme, err := signature.NewHMACScheme([]byte("shared-secret"))
	if err != nil {
		test.Fatalf("scheme: %v", err)
	}
	verifier, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue, Scheme: scheme})
	if err != nil {
		test.Fatalf("verifier: %v", err)
	}
	body := []byte(bodyValue)
	headers := signature.Headers{TransmissionID: "T1", TransmissionTime: "now", CertURL: signaturetest.DefaultCertURL}
	headers.Signature = scheme.Sign([]byte(verifier.SigningString(headers, body)))

	if err := verifier.Verify(context.Background(), headers, body); err != nil {
		test.Fatalf("expected valid hmac, got %v", err)
	}
	other, _ := signature.NewHMACScheme([]byte("other-secret"))
	headers.Signature = other.Sign([]byte(verifier.SigningString(headers, body)))
	if err := verifier.Verify(context.Background(), headers, body); !errors.Is(err, signature.ErrVerificationFailed) {
		test.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestNewVerifierValidation(test *testing.T) {
	test.Parallel()
	scheme, _ := signature.NewHMACScheme([]byte("secret"))
	if _, err := signature.NewVerifier(signature.Config{Scheme: scheme}); !errors.Is(err, signature.ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing webhook id, got %v", err)
	}
	if _, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue}); !errors.Is(err, signature.ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for missing scheme, got %v", err)
	}
	if _, err := signature.NewVerifier(signature.Config{WebhookID: webhookIDValue, Scheme: scheme, Digest: "md5"}); !errors.Is(err, signature.ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for unknown digest, got %v", err)
	}
	if _, err := signature.NewHMACScheme(nil); !errors.Is(err, signature.ErrInvalidConfig) {
		test.Fatalf("expected ErrInvalidConfig for empty secret, got %v", err)
	}
}
