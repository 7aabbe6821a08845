package rule

import (
	"context"
	"strings"
	"testing"

	"nexus-cart/internal/service/cart/domain"
	"nexus-cart/internal/service/cart/domain/port"
)

func TestCELPolicy(t *testing.T) {
	p, err := NewCELPolicy(`quantity <= 10 && lines <= 3 && !productId.startsWith("blocked-")`)
	if err != nil {
		t.Fatalf("NewCELPolicy: %v", err)
	}

	tests := []struct {
		name    string
		req     port.AdmissionRequest
		allowed bool
	}{
		{"within limits", port.AdmissionRequest{ProductID: "p1", Quantity: 10, Lines: 3, Stock: 50}, true},
		{"too many units", port.AdmissionRequest{ProductID: "p1", Quantity: 11, Lines: 1, Stock: 50}, false},
		{"too many lines", port.AdmissionRequest{ProductID: "p1", Quantity: 1, Lines: 4, Stock: 50}, false},
		{"blocked product", port.AdmissionRequest{ProductID: "blocked-7", Quantity: 1, Lines: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Admit(context.Background(), tt.req)
			if tt.allowed && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
			if !tt.allowed && domain.KindOf(err) != domain.KindValidation {
				t.Fatalf("err = %v, want validation error", err)
			}
			// 表达式只写日志，不返回给调用方
			if !tt.allowed && strings.Contains(domain.PublicMessage(err), "quantity") {
				t.Fatalf("public message leaks policy: %q", domain.PublicMessage(err))
			}
		})
	}
}

func TestCELPolicyCompileErrors(t *testing.T) {
	for _, expr := range []string{"quantity +", "quantity + 1", "unknownVar > 1"} {
		if _, err := NewCELPolicy(expr); err == nil {
			t.Errorf("%q should not compile into a policy", expr)
		}
	}
}
