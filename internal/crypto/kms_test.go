package crypto

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// fakeKMS reverses bytes so ciphertext differs from plaintext.
type fakeKMS struct {
	fail bool
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *fakeKMS) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	return &kms.EncryptOutput{CiphertextBlob: reverse(in.Plaintext)}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	return &kms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob)}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	s := NewKMSService(&fakeKMS{}, "alias/test")
	ctx := context.Background()

	ct, err := s.Encrypt(ctx, "refresh-token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ct == "refresh-token" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	pt, err := s.Decrypt(ctx, ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if pt != "refresh-token" {
		t.Errorf("expected %q, got %q", "refresh-token", pt)
	}
}

func TestKMSService_Errors(t *testing.T) {
	s := NewKMSService(&fakeKMS{fail: true}, "alias/test")
	ctx := context.Background()

	if _, err := s.Encrypt(ctx, "x"); err == nil {
		t.Error("expected encrypt error")
	}
	if _, err := s.Decrypt(ctx, "!!not-base64"); err == nil {
		t.Error("expected decode error")
	}
}

func TestMockEncryptor(t *testing.T) {
	m := NewMockEncryptor()
	ct, _ := m.Encrypt(context.Background(), "abc")
	if ct != "mock:abc" {
		t.Errorf("unexpected ciphertext %q", ct)
	}
	pt, _ := m.Decrypt(context.Background(), ct)
	if pt != "abc" {
		t.Errorf("unexpected plaintext %q", pt)
	}
}
