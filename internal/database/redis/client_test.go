package redis

import "testing"

func TestKeys(t *testing.T) {
	tests := []struct {
		prefix, table, wantTable string
		wallet, wantStatus       string
	}{
		{"", "try_send_proofs", "table:try_send_proofs", "w", "status:w"},
		{"gomint", "try_send_proofs", "gomint:table:try_send_proofs", "__melminter_Testnet", "gomint:status:__melminter_Testnet"},
	}

	for _, tt := range tests {
		if got := hashKey(tt.prefix, tt.table); got != tt.wantTable {
			t.Errorf("hashKey(%q, %q) = %q, want %q", tt.prefix, tt.table, got, tt.wantTable)
		}
		c := &Client{prefix: tt.prefix}
		if got := c.statusKey(tt.wallet); got != tt.wantStatus {
			t.Errorf("statusKey(%q) = %q, want %q", tt.wallet, got, tt.wantStatus)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("redis://localhost:6379/0", "gomint")
	if cfg.URL != "redis://localhost:6379/0" || cfg.Prefix != "gomint" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
	if cfg.PoolSize <= 0 || cfg.DialTimeout <= 0 {
		t.Errorf("DefaultConfig() has unusable pool settings: %+v", cfg)
	}
}
