package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignDeterministic(t *testing.T) {
	svc := NewHMACSignatureService()

	s1 := svc.Sign("secret", `{"session_id":"s-1"}`)
	s2 := svc.Sign("secret", `{"session_id":"s-1"}`)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1, 64) // sha256 hex
}

func TestHMACSignatureService_Verify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := `{"session_id":"s-1","status":"confirmed"}`

	sig := svc.Sign("secret", payload)
	assert.True(t, svc.Verify("secret", payload, sig))
	assert.False(t, svc.Verify("wrong-secret", payload, sig))
	assert.False(t, svc.Verify("secret", payload+" ", sig))
	assert.False(t, svc.Verify("secret", payload, "deadbeef"))
}
