package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/ymir/internal/build"
	"github.com/lucasnoah/ymir/internal/deploy"
	"github.com/lucasnoah/ymir/internal/project"
	"github.com/lucasnoah/ymir/internal/tunnel"
	"github.com/lucasnoah/ymir/internal/ui"
)

const (
	testConfigFile = "/home/dev/.ymir/config.json"
	testProjectDir = "/site"
	pluginHeader   = "<?php\n/**\n * Plugin Name: Ymir\n */\n"
)

func executeCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag to its default so package-level flag
// variables don't leak between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			sv.Replace(vals)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// useMemFs swaps the filesystem for an in-memory one for the test.
func useMemFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	prevFs, prevHome := appFs, userHomeDir
	appFs = fs
	userHomeDir = func() (string, error) { return "/home/dev", nil }
	t.Cleanup(func() {
		appFs = prevFs
		userHomeDir = prevHome
	})
	return fs
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeCLIConfig(t *testing.T, fs afero.Fs, apiURL string) {
	t.Helper()
	data, _ := json.Marshal(map[string]string{
		"token":          "test-token",
		"api_url":        apiURL,
		"poll_interval":  "10ms",
		"deploy_timeout": "5s",
	})
	writeFile(t, fs, testConfigFile, string(data))
}

// writeSite lays out a minimal WordPress project with the Ymir plugin.
func writeSite(t *testing.T, fs afero.Fs) {
	t.Helper()
	writeFile(t, fs, testProjectDir+"/ymir.yml", "id: 42\nname: site\ntype: wordpress\nenvironments:\n  staging: ~\n")
	writeFile(t, fs, testProjectDir+"/index.php", "<?php")
	writeFile(t, fs, testProjectDir+"/wp-content/plugins/ymir/ymir.php", pluginHeader)
}

func loadSite(t *testing.T, fs afero.Fs) *project.Configuration {
	t.Helper()
	cfg, err := project.Load(fs, testProjectDir+"/ymir.yml")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"project", "build", "deploy", "environment", "database",
		"tunnel", "config", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestProjectSubcommands(t *testing.T) {
	subcmds := []string{"init", "validate", "build", "deploy", "info", "delete"}
	for _, sub := range subcmds {
		out, err := executeCommand("project", sub, "--help")
		if err != nil {
			t.Errorf("project %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("project %s --help produced no output", sub)
		}
	}
}

func TestEnvironmentSubcommands(t *testing.T) {
	for _, args := range [][]string{
		{"environment", "add", "--help"},
		{"environment", "delete", "--help"},
		{"environment", "list", "--help"},
		{"environment", "option", "set", "--help"},
	} {
		out, err := executeCommand(args...)
		if err != nil {
			t.Errorf("%v failed: %v", args, err)
		}
		if out == "" {
			t.Errorf("%v produced no output", args)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestProjectInitAndValidate(t *testing.T) {
	fs := useMemFs(t)

	if _, err := executeCommand("project", "init", "42", "site", "--project-dir", testProjectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	data, err := afero.ReadFile(fs, testProjectDir+"/ymir.yml")
	if err != nil {
		t.Fatalf("ymir.yml not written: %v", err)
	}
	want := "id: 42\nname: site\ntype: wordpress\nenvironments:\n  staging: ~\n  production: ~\n"
	if string(data) != want {
		t.Errorf("ymir.yml =\n%s\nwant\n%s", data, want)
	}

	out, err := executeCommand("project", "validate", "--project-dir", testProjectDir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ymir.yml file is valid") {
		t.Errorf("validate output = %q", out)
	}

	if _, err := executeCommand("project", "init", "42", "site", "--project-dir", testProjectDir); err == nil {
		t.Error("expected error when ymir.yml already exists")
	}
	if _, err := executeCommand("project", "init", "7", "other", "--force", "--project-dir", testProjectDir); err != nil {
		t.Errorf("init --force: %v", err)
	}
	if id, _ := loadSite(t, fs).ProjectID(); id != 7 {
		t.Errorf("id after --force = %d, want 7", id)
	}
}

func TestProjectInitBedrock(t *testing.T) {
	fs := useMemFs(t)
	_, err := executeCommand("project", "init", "1", "bed", "--type", "bedrock", "--environment", "staging", "--project-dir", testProjectDir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	opts, err := loadSite(t, fs).Environment("staging")
	if err != nil {
		t.Fatal(err)
	}
	cmds, ok := opts["build"].([]any)
	if !ok || len(cmds) != 1 || cmds[0] != "COMPOSER_MIRROR_PATH_REPOS=1 composer install" {
		t.Errorf("staging build = %v", opts["build"])
	}
}

func TestProjectInitRejectsBadInput(t *testing.T) {
	useMemFs(t)
	if _, err := executeCommand("project", "init", "abc", "site", "--project-dir", testProjectDir); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if _, err := executeCommand("project", "init", "1", "site", "--type", "drupal", "--project-dir", testProjectDir); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestValidateMissingProject(t *testing.T) {
	useMemFs(t)
	_, err := executeCommand("project", "validate", "--project-dir", testProjectDir)
	if !errors.Is(err, project.ErrConfigMissing) {
		t.Errorf("error = %v, want ErrConfigMissing", err)
	}
}

func TestEnvironmentCommands(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	dir := "--project-dir=" + testProjectDir

	if _, err := executeCommand("environment", "add", "preview", "--build", "npm ci", "--build", "npm run build", dir); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := executeCommand("environment", "add", "preview", dir); err == nil {
		t.Error("expected error adding an existing environment")
	}

	out, err := executeCommand("environment", "list", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "  - staging\n  - preview\n" {
		t.Errorf("list output = %q", out)
	}

	if _, err := executeCommand("environment", "option", "set", "memory", "512", "-e", "preview", dir); err != nil {
		t.Fatalf("option set: %v", err)
	}
	if _, err := executeCommand("environment", "option", "set", "cdn", "true", dir); err != nil {
		t.Fatalf("option set all: %v", err)
	}
	if _, err := executeCommand("environment", "option", "set", "memory", "1", "-e", "nope", dir); !errors.Is(err, project.ErrEnvironmentNotFound) {
		t.Errorf("error = %v, want ErrEnvironmentNotFound", err)
	}

	cfg := loadSite(t, fs)
	preview, _ := cfg.Environment("preview")
	if preview["memory"] != 512 || preview["cdn"] != true {
		t.Errorf("preview options = %v", preview)
	}
	if cmds, _ := preview["build"].([]any); len(cmds) != 2 || cmds[1] != "npm run build" {
		t.Errorf("preview build = %v", preview["build"])
	}
	staging, _ := cfg.Environment("staging")
	if staging["cdn"] != true {
		t.Errorf("staging options = %v", staging)
	}

	if _, err := executeCommand("environment", "delete", "preview", dir); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if loadSite(t, fs).HasEnvironment("preview") {
		t.Error("preview should be deleted")
	}
}

func TestEnvironmentAddRequiresProject(t *testing.T) {
	fs := useMemFs(t)
	_, err := executeCommand("environment", "add", "staging", "--project-dir", testProjectDir)
	if !errors.Is(err, project.ErrConfigMissing) {
		t.Fatalf("error = %v, want ErrConfigMissing", err)
	}
	if ok, _ := afero.Exists(fs, testProjectDir+"/ymir.yml"); ok {
		t.Error("ymir.yml must not be created")
	}
}

func TestProjectDelete(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)

	prev := confirmFn
	t.Cleanup(func() { confirmFn = prev })
	confirmFn = func(*ui.Output, string) (bool, error) { return false, nil }

	out, err := executeCommand("project", "delete", "--project-dir", testProjectDir)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Aborted") {
		t.Errorf("output = %q", out)
	}
	if ok, _ := afero.Exists(fs, testProjectDir+"/ymir.yml"); !ok {
		t.Fatal("ymir.yml should remain after declining")
	}

	if _, err := executeCommand("project", "delete", "--yes", "--project-dir", testProjectDir); err != nil {
		t.Fatalf("delete --yes: %v", err)
	}
	if ok, _ := afero.Exists(fs, testProjectDir+"/ymir.yml"); ok {
		t.Error("ymir.yml should be deleted")
	}
}

func TestBuildAlias(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)

	out, err := executeCommand("build", "--project-dir", testProjectDir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, step := range []string{"Copying project files", "Ensuring Ymir plugin is installed", "Compressing build files"} {
		if !strings.Contains(out, step) {
			t.Errorf("output missing step %q: %s", step, out)
		}
	}
	if ok, _ := afero.Exists(fs, build.ArtifactPath(testProjectDir)); !ok {
		t.Error("build artifact not written")
	}
}

func TestBuildMissingPlugin(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	fs.RemoveAll(testProjectDir + "/wp-content")

	_, err := executeCommand("project", "build", "staging", "--project-dir", testProjectDir)
	if !errors.Is(err, build.ErrPluginNotFound) {
		t.Errorf("error = %v, want ErrPluginNotFound", err)
	}
}

// fakeDeployAPI serves the deployment endpoints.
type fakeDeployAPI struct {
	mu        sync.Mutex
	createRes string
	statuses  []string
	requests  []string
}

func (f *fakeDeployAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/projects/42/environments/staging/deployments":
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(f.createRes))
	case r.Method == http.MethodGet && r.URL.Path == "/deployments/5":
		status := f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 5, "status": status})
	default:
		http.NotFound(w, r)
	}
}

func TestDeploy(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	remote := &fakeDeployAPI{createRes: `{"id": 5}`, statuses: []string{"pending", "running", "finished"}}
	srv := httptest.NewServer(remote)
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	out, err := executeCommand("deploy", "--project-dir", testProjectDir, "--config-file", testConfigFile)
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out)
	}
	if !strings.Contains(out, `Project deployed successfully to "staging" environment`) {
		t.Errorf("output = %q", out)
	}
	if remote.requests[0] != "POST /projects/42/environments/staging/deployments" {
		t.Errorf("requests = %v", remote.requests)
	}
}

func TestDeployVerboseProgress(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	remote := &fakeDeployAPI{createRes: `{"id": 5}`, statuses: []string{"running", "finished"}}
	srv := httptest.NewServer(remote)
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	out, err := executeCommand("deploy", "--verbose", "--project-dir", testProjectDir, "--config-file", testConfigFile)
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out)
	}
	for _, line := range []string{"→ deployment 5 created", "→ deployment 5 is finished"} {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q: %s", line, out)
		}
	}
}

func TestDeployEmptyResponse(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	remote := &fakeDeployAPI{createRes: `{}`}
	srv := httptest.NewServer(remote)
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	_, err := executeCommand("project", "deploy", "staging", "--project-dir", testProjectDir, "--config-file", testConfigFile)
	if !errors.Is(err, deploy.ErrSubmissionFailed) {
		t.Fatalf("error = %v, want ErrSubmissionFailed", err)
	}
	if len(remote.requests) != 1 {
		t.Errorf("requests = %v, want only the create call", remote.requests)
	}
}

func TestDeployRemoteFailure(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	remote := &fakeDeployAPI{createRes: `{"id": 5}`, statuses: []string{"running", "failed"}}
	srv := httptest.NewServer(remote)
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	_, err := executeCommand("deploy", "--interval", "5ms", "--project-dir", testProjectDir, "--config-file", testConfigFile)
	if !errors.Is(err, deploy.ErrDeploymentFailed) {
		t.Errorf("error = %v, want ErrDeploymentFailed", err)
	}
}

func TestDeployRequiresToken(t *testing.T) {
	fs := useMemFs(t)
	writeSite(t, fs)
	t.Setenv("YMIR_TOKEN", "")
	_, err := executeCommand("deploy", "--project-dir", testProjectDir, "--config-file", testConfigFile)
	if !errors.Is(err, errNoToken) {
		t.Errorf("error = %v, want errNoToken", err)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	useMemFs(t)
	if _, err := executeCommand("config", "set", "token", "abcdefgh1234", "--config-file", testConfigFile); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if _, err := executeCommand("config", "set", "poll_interval", "soon", "--config-file", testConfigFile); err == nil {
		t.Error("expected error for invalid duration")
	}

	out, err := executeCommand("config", "show", "--config-file", testConfigFile)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"token: ********1234", "api_url: https://ymirapp.com/api", "poll_interval: 5s", "config_file: " + testConfigFile} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

type recordingStarter struct {
	starts int
}

func (s *recordingStarter) Start(name string, args ...string) (tunnel.Process, error) {
	s.starts++
	return nil, errors.New("unexpected start")
}

func TestTunnelOpenInvalidBastion(t *testing.T) {
	fs := useMemFs(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 3, "name": "db", "endpoint": "db.internal", "publicly_accessible": false, "bastion_host": {"endpoint": "1.2.3.4"}}`))
	}))
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	starter := &recordingStarter{}
	prev := newStarter
	t.Cleanup(func() { newStarter = prev })
	newStarter = func(io.Writer) tunnel.ProcessStarter { return starter }

	_, err := executeCommand("tunnel", "open", "3", "--config-file", testConfigFile)
	if !errors.Is(err, tunnel.ErrInvalidTunnelInput) {
		t.Fatalf("error = %v, want ErrInvalidTunnelInput", err)
	}
	if starter.starts != 0 {
		t.Error("ssh must not be started")
	}
	if ok, _ := afero.Exists(fs, "/home/dev/.ssh/ymir-tunnel"); ok {
		t.Error("key file must not be written")
	}
}

type exitedProcess struct {
	stops int
}

func (p *exitedProcess) Pid() int        { return 4242 }
func (p *exitedProcess) IsRunning() bool { return false }
func (p *exitedProcess) Wait() error     { return errors.New("exit status 255") }
func (p *exitedProcess) Stop() error {
	p.stops++
	return nil
}

type exitedStarter struct {
	proc *exitedProcess
}

func (s *exitedStarter) Start(name string, args ...string) (tunnel.Process, error) {
	return s.proc, nil
}

func TestTunnelOpenSSHExitRemovesKey(t *testing.T) {
	fs := useMemFs(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 3, "name": "db", "endpoint": "db.internal", "publicly_accessible": false, "bastion_host": {"endpoint": "1.2.3.4", "private_key": "KEY"}}`))
	}))
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	starter := &exitedStarter{proc: &exitedProcess{}}
	prev := newStarter
	t.Cleanup(func() { newStarter = prev })
	newStarter = func(io.Writer) tunnel.ProcessStarter { return starter }

	_, err := executeCommand("tunnel", "open", "3", "--cleanup-key", "--config-file", testConfigFile)
	if err == nil || !strings.Contains(err.Error(), "tunnel exited") {
		t.Fatalf("error = %v, want tunnel exited", err)
	}
	if starter.proc.stops != 1 {
		t.Errorf("stops = %d, want 1", starter.proc.stops)
	}
	if ok, _ := afero.Exists(fs, "/home/dev/.ssh/ymir-tunnel"); ok {
		t.Error("key file should be removed once ssh exits")
	}
}

func TestTunnelOpenPublicServer(t *testing.T) {
	fs := useMemFs(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 3, "name": "db", "endpoint": "db.example.com", "publicly_accessible": true}`))
	}))
	defer srv.Close()
	writeCLIConfig(t, fs, srv.URL)

	_, err := executeCommand("tunnel", "open", "3", "--config-file", testConfigFile)
	if err == nil || !strings.Contains(err.Error(), "publicly accessible") {
		t.Errorf("error = %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{deploy.ErrSubmissionFailed, "There was an error creating the deployment"},
		{build.ErrPluginNotFound, "Ymir plugin not found"},
		{fmt.Errorf("step failed: %w", build.ErrPluginNotFound), "Step failed: ymir plugin not found"},
		{errors.New("ümlaut first"), "Ümlaut first"},
		{errors.New(""), ""},
	}
	for _, tt := range tests {
		if got := ErrorMessage(tt.err); got != tt.want {
			t.Errorf("ErrorMessage(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseOptionValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"512", 512},
		{"true", true},
		{"hello", "hello"},
		{"~", nil},
	}
	for _, tt := range tests {
		got, err := parseOptionValue(tt.in)
		if err != nil {
			t.Fatalf("parseOptionValue(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseOptionValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
