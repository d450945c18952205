package tendermint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tendermint/tendermint/p2p"
)

func writeHome(t *testing.T, configToml, genesis string) string {
	t.Helper()
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config", "config.toml"), []byte(configToml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config", "genesis.json"), []byte(genesis), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return home
}

func TestSetPersistentPeers(t *testing.T) {
	home := writeHome(t, "[p2p]\nladdr = \"tcp://0.0.0.0:26656\"\npersistent_peers = \"\"\n", "{}")

	changed, err := SetPersistentPeers(home, []string{"abc@10.0.0.2:26656", "def@10.0.0.3:26656"})
	if err != nil {
		t.Fatalf("SetPersistentPeers: %v", err)
	}
	if !changed {
		t.Fatal("expected config to change")
	}
	data, _ := os.ReadFile(filepath.Join(home, "config", "config.toml"))
	if !strings.Contains(string(data), `persistent_peers = "abc@10.0.0.2:26656,def@10.0.0.3:26656"`) {
		t.Fatalf("peers not written:\n%s", data)
	}
	if !strings.Contains(string(data), `laddr = "tcp://0.0.0.0:26656"`) {
		t.Fatalf("unrelated settings lost:\n%s", data)
	}

	changed, err = SetPersistentPeers(home, []string{"abc@10.0.0.2:26656", "def@10.0.0.3:26656"})
	if err != nil {
		t.Fatalf("SetPersistentPeers again: %v", err)
	}
	if changed {
		t.Fatal("identical peer list should not rewrite the file")
	}
}

func TestSetGenesisAppState(t *testing.T) {
	home := writeHome(t, "", `{"chain_id":"tcm-test","app_state":{}}`)

	state := map[string]string{"admin": "ad01", "version": "1.0.0"}
	if err := SetGenesisAppState(home, state); err != nil {
		t.Fatalf("SetGenesisAppState: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(home, "config", "genesis.json"))
	var doc struct {
		ChainID  string            `json:"chain_id"`
		AppState map[string]string `json:"app_state"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode genesis: %v", err)
	}
	if doc.ChainID != "tcm-test" || doc.AppState["admin"] != "ad01" {
		t.Fatalf("unexpected genesis: %+v", doc)
	}
}

func TestTendermintHomeFromEnv(t *testing.T) {
	t.Setenv("TMHOME", "/srv/tm")
	if got := TendermintHome(); got != "/srv/tm" {
		t.Fatalf("expected TMHOME override, got %q", got)
	}
}

func TestNodeID(t *testing.T) {
	home := writeHome(t, "", "{}")
	key, err := p2p.LoadOrGenNodeKey(filepath.Join(home, "config", "node_key.json"))
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}

	id, err := NodeID(home)
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}
	if id != string(key.ID()) {
		t.Fatalf("expected %s, got %s", key.ID(), id)
	}

	if _, err := NodeID(t.TempDir()); err == nil {
		t.Fatal("expected an error without a node key")
	}
}
