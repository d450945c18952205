package tendermint

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tendermint/tendermint/p2p"
)

// InitTendermint initializes a Tendermint home directory with config and
// genesis files by running `tendermint init --home <tmHome>`. An already
// initialized home is left alone.
func InitTendermint(tmHome string) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}

	configFile := filepath.Join(tmHome, "config", "config.toml")
	if _, err := os.Stat(configFile); err == nil {
		return nil
	}

	cmd := exec.Command("tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to initialize Tendermint: %w", err)
	}
	return nil
}

// GetTendermintCommand returns the command that starts a Tendermint node
// against the given ABCI socket.
func GetTendermintCommand(tmHome, socketAddr string) *exec.Cmd {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if socketAddr == "" {
		socketAddr = DefaultSocket
	}

	cmd := exec.Command("tendermint", "node",
		"--home", tmHome,
		"--proxy_app", socketAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// TendermintHome returns the default Tendermint home directory.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}

// SetGenesisAppState writes appState into the app_state field of the
// genesis file, keeping every other field as is.
func SetGenesisAppState(tmHome string, appState any) error {
	path := filepath.Join(tmHome, "config", "genesis.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse genesis: %w", err)
	}
	raw, err := json.Marshal(appState)
	if err != nil {
		return fmt.Errorf("encode app_state: %w", err)
	}
	doc["app_state"] = raw

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}
	return writeFileAtomic(path, out)
}

// NodeID returns the p2p node id stored in the home's node_key.json, the
// id other nodes use in persistent_peers.
func NodeID(tmHome string) (string, error) {
	key, err := p2p.LoadNodeKey(filepath.Join(tmHome, "config", "node_key.json"))
	if err != nil {
		return "", fmt.Errorf("load node key: %w", err)
	}
	return string(key.ID()), nil
}

var persistentPeersLine = regexp.MustCompile(`(?m)^persistent_peers\s*=\s*".*"$`)

// SetPersistentPeers rewrites the persistent_peers entry of config.toml.
// It reports whether the file changed.
func SetPersistentPeers(tmHome string, peers []string) (bool, error) {
	path := filepath.Join(tmHome, "config", "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read tendermint config: %w", err)
	}

	line := fmt.Sprintf(`persistent_peers = "%s"`, strings.Join(peers, ","))
	var updated []byte
	if persistentPeersLine.Match(data) {
		updated = persistentPeersLine.ReplaceAll(data, []byte(line))
	} else {
		updated = append(append([]byte{}, data...), []byte("\n"+line+"\n")...)
	}
	if string(updated) == string(data) {
		return false, nil
	}
	if err := writeFileAtomic(path, updated); err != nil {
		return false, err
	}
	return true, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
