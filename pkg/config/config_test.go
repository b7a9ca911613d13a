package config

import (
	"strings"
	"testing"
)

func validConfig() *RelayerConfig {
	c := NewRelayerConfig()
	c.PrivateKey = "0x" + strings.Repeat("ab", 32)
	c.TokenAddress = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	c.RelayerAddress = "0x00000000000000000000000000000000000000AA"
	c.FeeBeneficiary = "0x00000000000000000000000000000000000000BB"
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RelayerConfig)
		wantErr string
	}{
		{"valid", func(c *RelayerConfig) {}, ""},
		{"missing key", func(c *RelayerConfig) { c.PrivateKey = "" }, "privateKey"},
		{"short key", func(c *RelayerConfig) { c.PrivateKey = "0x1234" }, "64 hex chars"},
		{"bad token", func(c *RelayerConfig) { c.TokenAddress = "0x123" }, "tokenAddress"},
		{"zero beneficiary", func(c *RelayerConfig) {
			c.FeeBeneficiary = "0x0000000000000000000000000000000000000000"
		}, "zero address"},
		{"bad port", func(c *RelayerConfig) { c.Port = 70000 }, "port"},
		{"unknown mode", func(c *RelayerConfig) { c.FingerprintMode = "hash" }, "fingerprintMode"},
		{"unknown policy", func(c *RelayerConfig) { c.RollbackPolicy = "forget" }, "rollbackPolicy"},
		{"redis without address", func(c *RelayerConfig) { c.ReplayStore = ReplayStoreRedis }, "redisAddress"},
		{"badger without path", func(c *RelayerConfig) { c.ReplayStore = ReplayStoreBadger }, "badgerPath"},
		{"unknown store", func(c *RelayerConfig) { c.ReplayStore = "etcd" }, "replayStore"},
		{"negative rate", func(c *RelayerConfig) { c.RateLimit = -1 }, "rateLimit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateNeverEchoesKey(t *testing.T) {
	c := validConfig()
	c.PrivateKey = "0xdeadbeefcafe"
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "deadbeefcafe") {
		t.Errorf("error leaks the private key: %v", err)
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	c := NewRelayerConfig()
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"privateKey", "tokenAddress", "relayerAddress", "feeBeneficiary"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
