// Command deployer builds tcm and pushes it to a set of test hosts over SSH.
// Hosts come from -hosts or from a YAML inventory file. Node keys, the
// ledger database and the Tendermint home on each host are left alone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// Inventory is the YAML host file.
//
//	user: tcm
//	remote_dir: /home/tcm/tcm-app
//	hosts:
//	  - 192.168.10.147
//	  - 192.168.10.174
type Inventory struct {
	User      string   `yaml:"user"`
	RemoteDir string   `yaml:"remote_dir"`
	Hosts     []string `yaml:"hosts"`
}

type hostResult struct {
	host     string
	duration time.Duration
	err      error
}

// remoteExcludes are never overwritten or deleted on a host.
var remoteExcludes = []string{
	"tcm_key.pem",
	"ledger.db",
	"ledger.db-*",
	"backups/",
	".tendermint/",
	"config.yaml",
}

type deployer struct {
	target    string
	keyPath   string
	remoteDir string
	logger    *slog.Logger
}

func main() {
	var (
		hostsFlag     string
		inventoryFlag string
		keyFlag       string
		binaryFlag    string
		userFlag      string
		remoteDir     string
		parallelFlag  int
		skipBuild     bool
	)

	homeDir, _ := os.UserHomeDir()

	flag.StringVar(&hostsFlag, "hosts", "", "comma-separated list of hosts (overrides the inventory)")
	flag.StringVar(&inventoryFlag, "inventory", "hosts.yaml", "YAML inventory file")
	flag.StringVar(&keyFlag, "key", filepath.Join(homeDir, ".ssh", "id_ed25519"), "path to SSH private key")
	flag.StringVar(&binaryFlag, "binary", "tcm", "path for the compiled binary")
	flag.StringVar(&userFlag, "user", "", "remote user (default from inventory, else tcm)")
	flag.StringVar(&remoteDir, "remote-dir", "", "remote deployment directory (default from inventory)")
	flag.IntVar(&parallelFlag, "parallel", 2, "number of hosts to deploy concurrently")
	flag.BoolVar(&skipBuild, "skip-build", false, "skip rebuilding the binary before deployment")
	flag.Parse()

	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	inv, err := resolveInventory(hostsFlag, inventoryFlag, userFlag, remoteDir)
	if err != nil {
		fatal(logger, "resolve hosts", err)
	}
	if len(inv.Hosts) == 0 {
		fatal(logger, "resolve hosts", errors.New("no hosts specified"))
	}
	parallelFlag = max(1, min(parallelFlag, len(inv.Hosts)))

	for _, tool := range []string{"rsync", "ssh", "go"} {
		if err := ensureToolExists(tool); err != nil {
			fatal(logger, "preflight", err)
		}
	}
	if _, err := os.Stat(keyFlag); err != nil {
		fatal(logger, "ssh key not accessible", err)
	}

	binaryPath, err := filepath.Abs(binaryFlag)
	if err != nil {
		fatal(logger, "determine binary path", err)
	}

	if !skipBuild {
		if err := goRun(logger, "generating API documentation", "run", "./cmd/docgen"); err != nil {
			fatal(logger, "generate docs", err)
		}
		if err := goRun(logger, "building tcm", "build", "-o", binaryPath, "."); err != nil {
			fatal(logger, "build binary", err)
		}
	} else {
		logger.Info("skipping build step")
	}

	docsDir, err := filepath.Abs("docs")
	if err != nil {
		fatal(logger, "resolve docs directory", err)
	}

	results := runDeployments(inv, keyFlag, binaryPath, docsDir, parallelFlag, logger)

	data := pterm.TableData{{"Host", "Result", "Duration"}}
	var failed int
	for _, r := range results {
		status := pterm.Green("ok")
		if r.err != nil {
			failed++
			status = pterm.Red(r.err.Error())
		}
		data = append(data, []string{r.host, status, r.duration.Truncate(time.Millisecond).String()})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	if failed > 0 {
		pterm.Error.Printfln("deployment failed on %d host(s)", failed)
		os.Exit(1)
	}
	pterm.Success.Printfln("deployed to %d host(s)", len(results))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}

// resolveInventory merges the inventory file with the command-line flags.
// A missing inventory is fine when -hosts is set.
func resolveInventory(hostsFlag, path, user, remoteDir string) (Inventory, error) {
	var inv Inventory
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &inv); err != nil {
			return inv, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && hostsFlag != "":
	default:
		return inv, err
	}

	if hostsFlag != "" {
		inv.Hosts = splitHosts(hostsFlag)
	} else {
		inv.Hosts = splitHosts(strings.Join(inv.Hosts, ","))
	}
	if user != "" {
		inv.User = user
	}
	if inv.User == "" {
		inv.User = "tcm"
	}
	if remoteDir != "" {
		inv.RemoteDir = remoteDir
	}
	if inv.RemoteDir == "" {
		inv.RemoteDir = fmt.Sprintf("/home/%s/tcm-app", inv.User)
	}
	return inv, nil
}

func splitHosts(s string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, p := range strings.Split(s, ",") {
		h := strings.TrimSpace(p)
		if h != "" && !seen[h] {
			seen[h] = true
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func ensureToolExists(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required tool %q not found in PATH", name)
	}
	return nil
}

func goRun(logger *slog.Logger, msg string, args ...string) error {
	logger.Info(msg)
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runDeployments(inv Inventory, keyPath, binaryPath, docsDir string, parallel int, logger *slog.Logger) []hostResult {
	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, parallel)
		results = make([]hostResult, len(inv.Hosts))
	)

	for idx, host := range inv.Hosts {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			d := &deployer{
				target:    fmt.Sprintf("%s@%s", inv.User, h),
				keyPath:   keyPath,
				remoteDir: inv.RemoteDir,
				logger:    logger.With("host", h),
			}
			start := time.Now()
			err := d.deploy(binaryPath, docsDir)
			results[i] = hostResult{host: h, duration: time.Since(start), err: err}
		}(idx, host)
	}

	wg.Wait()
	return results
}

func (d *deployer) deploy(binaryPath, docsDir string) error {
	d.logger.Info("starting deployment")

	if err := d.stopRemoteBinary(); err != nil {
		return fmt.Errorf("stop remote binary: %w", err)
	}
	if err := d.ssh(fmt.Sprintf("mkdir -p %s/docs", d.remoteDir), 20*time.Second); err != nil {
		return fmt.Errorf("prepare remote directories: %w", err)
	}
	if err := d.rsync(binaryPath, d.remoteDir+"/"); err != nil {
		return fmt.Errorf("rsync binary: %w", err)
	}
	if err := d.rsync(docsDir+"/", d.remoteDir+"/docs/"); err != nil {
		return fmt.Errorf("rsync docs: %w", err)
	}
	if err := d.ssh(fmt.Sprintf("chmod +x %s/tcm", d.remoteDir), 5*time.Second); err != nil {
		return fmt.Errorf("set executable bit: %w", err)
	}

	startCmd := fmt.Sprintf("cd %s && setsid -f nohup ./tcm -config config.yaml > tcm.log 2>&1 < /dev/null", d.remoteDir)
	if err := d.ssh(startCmd, 30*time.Second); err != nil {
		return fmt.Errorf("start remote binary: %w", err)
	}

	time.Sleep(2 * time.Second)
	if err := d.ssh("pgrep -f 'tcm -config'", 5*time.Second); err != nil {
		d.logger.Warn("process failed to start; fetching tcm.log")
		if logErr := d.ssh(fmt.Sprintf("tail -n 50 %s/tcm.log", d.remoteDir), 5*time.Second); logErr != nil {
			d.logger.Warn("failed to fetch log", "err", logErr)
		}
		return fmt.Errorf("verify process running: %w", err)
	}

	d.logger.Info("deployment succeeded")
	return nil
}

func (d *deployer) sshOptions() []string {
	return []string{"-i", d.keyPath, "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=no"}
}

func (d *deployer) ssh(remoteCmd string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := append(d.sshOptions(), d.target, remoteCmd)
	cmd := exec.CommandContext(ctx, "ssh", args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ssh command timed out: %s", remoteCmd)
		}
		return fmt.Errorf("ssh error (%s): %v | output: %s", remoteCmd, err, strings.TrimSpace(output.String()))
	}
	if out := strings.TrimSpace(output.String()); out != "" {
		d.logger.Debug("ssh output", "cmd", remoteCmd, "out", out)
	}
	return nil
}

func (d *deployer) rsyncArgs(src, remotePath string) []string {
	args := []string{"-az", "--delete"}
	for _, ex := range remoteExcludes {
		args = append(args, "--exclude="+ex)
	}
	return append(args,
		"-e", "ssh "+strings.Join(d.sshOptions(), " "),
		src,
		d.target+":"+remotePath,
	)
}

func (d *deployer) rsync(src, remotePath string) error {
	cmd := exec.Command("rsync", d.rsyncArgs(src, remotePath)...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync output: %s | err: %w", strings.TrimSpace(output.String()), err)
	}
	return nil
}

func (d *deployer) stopRemoteBinary() error {
	stopCmd := "pgrep -f 'tcm -config' >/dev/null && pkill -TERM -f 'tcm -config' || true"
	if err := d.ssh(stopCmd, 15*time.Second); err != nil {
		return err
	}

	// Tendermint is a child of tcm and may take a moment to flush.
	waitCmd := "count=0; while pgrep -f 'tcm -config' >/dev/null; do if [ \"$count\" -ge 15 ]; then exit 1; fi; count=$((count+1)); sleep 1; done"
	return d.ssh(waitCmd, 20*time.Second)
}
